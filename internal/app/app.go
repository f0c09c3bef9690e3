package app

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/config"
	"live-transcription-service/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ready    atomic.Pointer[func() bool]
	stopping atomic.Bool
}

// New constructs a new Application from the provided configuration and
// initialises the global logger from it.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Live transcription service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:   a.Cfg.Observability.LogLevel,
		Format:  a.Cfg.Observability.LogFormat,
		Service: a.Cfg.Service.Principal,
	})

	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// SetReadiness installs the check consulted by Ready, normally the
// orchestrator's admission state.
func (a *Application) SetReadiness(fn func() bool) {
	a.ready.Store(&fn)
}

// Ready reports whether new sessions should be routed here.
func (a *Application) Ready() bool {
	if a.stopping.Load() {
		return false
	}
	if fn := a.ready.Load(); fn != nil {
		return (*fn)()
	}
	return true
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Cfg.Inference.Provider).
		Int64("inferencePermits", a.Cfg.Inference.Permits).
		Dur("segmentWindow", a.Cfg.Segment.Window).
		Bool("kafkaEnabled", a.Cfg.Kafka.Enabled).
		Msg("Live transcription service starting")

	return nil
}

// info is the body of GET /v1/info.
type info struct {
	Service      string `json:"service"`
	StartedAt    string `json:"startedAt"`
	Provider     string `json:"sttProvider"`
	Permits      int64  `json:"inferencePermits"`
	WindowSecs   int64  `json:"segmentWindowSeconds"`
	KafkaEnabled bool   `json:"kafkaEnabled"`
	Ready        bool   `json:"ready"`
}

// InfoJSON describes the running configuration. Secrets are never included.
func (a *Application) InfoJSON() []byte {
	b, err := json.Marshal(info{
		Service:      a.Cfg.Service.Principal,
		StartedAt:    a.StartupTime.Format(time.RFC3339),
		Provider:     a.Cfg.Inference.Provider,
		Permits:      a.Cfg.Inference.Permits,
		WindowSecs:   int64(a.Cfg.Segment.Window / time.Second),
		KafkaEnabled: a.Cfg.Kafka.Enabled,
		Ready:        a.Ready(),
	})
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// Shutdown marks the application as stopping so readiness fails first.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.stopping.Store(true)
	shutdownLogger.Info().Msg("Live transcription service shutting down")
}
