// Package app holds process-wide state shared by the service binaries.
package app

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/config"
	"recording-ingress-service/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	a.Logger.Info().Msg("Recording ingress application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logCfg := logging.DefaultConfig()
	if level := os.Getenv("ZEROLOG_LOG_LEVEL"); level != "" {
		logCfg.Level = level
	}
	if os.Getenv("ENV") == "dev" {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)

	a.Logger = logging.Logger().With().
		Str("service", a.Cfg.Service.Principal).
		Logger()

	a.Logger.Info().
		Str("logLevel", logCfg.Level).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Recording ingress service starting")
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Recording ingress service shutting down")
}
