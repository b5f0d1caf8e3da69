package main

import (
	"context"
	"fmt"
	"log/slog"
)

// handleMigrations executes a -migrate command against the backend.
func handleMigrations(ctx context.Context, b *backend, command string, logger *slog.Logger) error {
	logger.Info("executing migrations",
		slog.String("command", command),
		slog.String("driver", b.driver))

	switch command {
	case "up":
		if err := b.migrate(ctx, b.db, logger); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
	case "down":
		if err := b.rollback(ctx, b.db, logger); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	v, err := b.version(ctx, b.db, logger)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("schema version", slog.Int64("version", v))
	return nil
}
