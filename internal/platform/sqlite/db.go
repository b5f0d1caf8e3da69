package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/scry-quests/internal/platform/migrate"
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect is the goose dialect for this backend.
const Dialect = "sqlite3"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open opens (or creates) the database at path with foreign keys enabled
// and a busy timeout. path may be a plain file path or a file: URI.
// The caller is responsible for calling Close.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

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

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}

	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
}
