package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-quests/internal/config"
)

// loadAppConfig loads the configuration from the given file (or the
// default search path when empty) overlaid with SCRY_* environment variables.
func loadAppConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver))

	if cfg.Events.NATSURL != "" {
		slog.Debug("event delivery configuration", slog.Bool("nats_enabled", true))
	}
	if cfg.Cache.RedisAddr != "" {
		slog.Debug("cache configuration", slog.Bool("redis_enabled", true))
	}

	return cfg, nil
}
