package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/scry-quests/internal/config"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/platform/postgres"
	"github.com/phrazzld/scry-quests/internal/platform/sqlite"
	"github.com/phrazzld/scry-quests/internal/store"
)

// schemaFunc runs a migration operation against db.
type schemaFunc func(ctx context.Context, db *sql.DB, logger *slog.Logger) error

// taskCatalog is a task store that can also write definitions.
type taskCatalog interface {
	store.TaskStore
	Upsert(ctx context.Context, task *domain.Task) error
}

// backend bundles a connection with the stores and schema operations of
// the configured driver.
type backend struct {
	driver      string
	db          *sql.DB
	tasks       taskCatalog
	assignments store.AssignmentStore

	migrate  schemaFunc
	rollback schemaFunc
	version  func(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error)
}

// setupAppDatabase opens the configured database and builds its stores.
// The caller owns the returned connection.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established", slog.String("driver", "postgres"))
		return &backend{
			driver:      "postgres",
			db:          db,
			tasks:       postgres.NewPostgresTaskStore(db, logger),
			assignments: postgres.NewPostgresAssignmentStore(db, logger),
			migrate:     postgres.Migrate,
			rollback:    postgres.Rollback,
			version:     postgres.SchemaVersion,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		logger.Info("database connection established", slog.String("driver", "sqlite"))
		return newSQLiteBackend(db, logger), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func newSQLiteBackend(db *sql.DB, logger *slog.Logger) *backend {
	return &backend{
		driver:      "sqlite",
		db:          db,
		tasks:       sqlite.NewTaskStore(db, logger),
		assignments: sqlite.NewAssignmentStore(db, logger),
		migrate:     sqlite.Migrate,
		rollback:    sqlite.Rollback,
		version:     sqlite.SchemaVersion,
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
