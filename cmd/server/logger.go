package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-quests/internal/config"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
)

// setupAppLogger configures the process-wide JSON logger from config.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(logger.LoggerConfig{
		Level:     cfg.Server.LogLevel,
		AddSource: cfg.Server.LogLevel == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return l, nil
}
