// Package providers contains dependency injection providers for the circulation server.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting Circulation Server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Data.BasePath,
		"timezone", cfg.Circulation.Location.String(),
		"fine_rate_per_day", cfg.Circulation.FineRatePerDay,
		"fine_overrides", cfg.Circulation.WaiverKeyHash != "",
	)

	return log, nil
}
