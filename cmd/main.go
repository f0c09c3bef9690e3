package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "live-transcription-service/internal/api/grpc"
	"live-transcription-service/internal/api/ws"
	"live-transcription-service/internal/app"
	"live-transcription-service/internal/config"
	"live-transcription-service/internal/events"
	httpapi "live-transcription-service/internal/http"
	"live-transcription-service/internal/observability"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/gate"
	"live-transcription-service/internal/service/orchestrator"
	"live-transcription-service/internal/service/stt/engines"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := engines.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Inference.Provider).Msg("Failed to create STT engine")
	}

	// Kafka publisher with separate topics for pieces, finals and errors
	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		TopicError:   cfg.Kafka.TopicError,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	ffmpeg := extract.NewFFmpeg(extract.FFmpegConfig{
		FFmpegPath:   cfg.Extraction.FFmpegPath,
		FFprobePath:  cfg.Extraction.FFprobePath,
		SampleRate:   cfg.Extraction.SampleRate,
		WorkDir:      cfg.Extraction.WorkDir,
		ContainerExt: cfg.Segment.ContainerExt,
	}, nil)

	orch := orchestrator.New(orchestrator.Config{
		Window:         cfg.Segment.Window,
		BytesPerSecond: cfg.Segment.BytesPerSecond,
		MinDuration:    cfg.Segment.MinDuration,
		FragmentQueue:  cfg.Segment.FragmentQueue,
		DrainTimeout:   cfg.Inference.DrainTimeout,
	}, orchestrator.Deps{
		Extractor: ffmpeg,
		Prober:    ffmpeg,
		Gate: gate.New(engine, gate.Config{
			Permits:     cfg.Inference.Permits,
			CallTimeout: cfg.Inference.CallTimeout,
		}, metrics.DefaultMetrics),
		EngineName: engine.Name(),
		Sink:       publisher,
		Metrics:    metrics.DefaultMetrics,
	})
	application.SetReadiness(orch.Ready)

	obs := observability.NewServer(cfg.Observability.MetricsAddr, observability.Probes{
		Ready:  application.Ready,
		Active: orch.Active,
	})
	obs.Start()

	wsHandler := ws.NewHandler(orch, ws.Config{
		AccessToken: cfg.Auth.AccessToken,
		Limits: audio.Limits{
			MaxFragmentBytes: cfg.Stream.MaxFragmentBytes,
			MaxSessionBytes:  cfg.Stream.MaxSessionBytes,
			MaxDuration:      cfg.Stream.MaxDuration,
		},
		ResultWait:  cfg.Inference.DrainTimeout + time.Minute,
		IdleTimeout: cfg.Stream.IdleTimeout,
	}, metrics.DefaultMetrics)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, wsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpcapi.New(metrics.DefaultMetrics)

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("engine", engine.Name()).Msg("Live transcription service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, draining sessions")

	application.Shutdown()
	grpcServer.SetServing(false)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Inference.DrainTimeout+30*time.Second)
	defer cancel()
	if err := orch.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Sessions did not drain in time")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	grpcServer.Stop(shutdownCtx)
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown error")
	}
	if closer, ok := engine.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("STT engine close error")
		}
	}
	log.Info().Msg("Shutdown complete")
}
