// Package migrate applies embedded goose migrations to a database handle.
// Both storage backends keep their schema as SQL files next to their store
// code and hand them to Up together with the matching goose dialect.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

// TableName is the goose bookkeeping table.
const TableName = "schema_migrations"

// goose keeps its dialect, filesystem and logger in package globals.
var mu sync.Mutex

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements goose.Logger by forwarding messages to slog at info level.
func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements goose.Logger. Unlike the standard Fatalf it does NOT
// exit; the error is returned to the caller instead.
func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Up applies every pending migration found in dir of fsys.
func Up(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, dir string, logger *slog.Logger) error {
	return run(ctx, db, dialect, fsys, dir, logger, func(ctx context.Context) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, dir string, logger *slog.Logger) error {
	return run(ctx, db, dialect, fsys, dir, logger, func(ctx context.Context) error {
		return goose.DownContext(ctx, db, dir)
	})
}

// Version returns the currently applied schema version.
func Version(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, dir string, logger *slog.Logger) (int64, error) {
	var version int64
	err := run(ctx, db, dialect, fsys, dir, logger, func(ctx context.Context) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func run(
	ctx context.Context,
	db *sql.DB,
	dialect string,
	fsys fs.FS,
	dir string,
	logger *slog.Logger,
	fn func(ctx context.Context) error,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "migrations"), slog.String("dialect", dialect))

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetTableName(TableName)
	goose.SetLogger(&slogGooseLogger{logger: log})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect %q: %w", dialect, err)
	}

	if err := fn(ctx); err != nil {
		log.Error("migration failed", slog.String("error", err.Error()))
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
