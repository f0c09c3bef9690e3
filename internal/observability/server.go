// Package observability provides the metrics and probe HTTP server and the
// gRPC interceptors.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/logging"
)

// Probes feed the readiness endpoint. Nil fields are treated as ready and
// zero active sessions.
type Probes struct {
	Ready  func() bool
	Active func() int
}

type readiness struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
}

// Server provides HTTP endpoints for observability.
type Server struct {
	server *http.Server
	addr   string
	logger zerolog.Logger
}

// NewServer creates the observability HTTP server.
func NewServer(addr string, probes Probes) *Server {
	r := chi.NewRouter()

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Liveness, separate from gRPC health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Readiness fails while sessions drain so no new streams are routed here.
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		body := readiness{Status: "ready"}
		code := http.StatusOK
		if probes.Ready != nil && !probes.Ready() {
			body.Status = "draining"
			code = http.StatusServiceUnavailable
		}
		if probes.Active != nil {
			body.ActiveSessions = probes.Active()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})

	return &Server{
		addr:   addr,
		logger: logging.WithComponent("observability"),
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting observability HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Observability HTTP server error")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
