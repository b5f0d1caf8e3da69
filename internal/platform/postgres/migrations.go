package postgres

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/phrazzld/scry-quests/internal/platform/migrate"
)

// Dialect is the goose dialect for this backend.
const Dialect = "postgres"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending schema migration.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return migrate.Up(ctx, db, Dialect, migrationFS, "migrations", logger)
}

// Rollback reverts the most recent schema migration.
func Rollback(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return migrate.Down(ctx, db, Dialect, migrationFS, "migrations", logger)
}

// SchemaVersion reports the applied schema version.
func SchemaVersion(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	return migrate.Version(ctx, db, Dialect, migrationFS, "migrations", logger)
}
