// Package main implements the entry point for the quests server, which
// assigns gamified tasks to users, tracks their progress and announces
// completions to reward consumers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// options are the command-line flags.
type options struct {
	configPath string
	migrate    string
	sweepOnce  bool
	seed       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (default ./config.yaml if present)")
	fs.StringVar(&opts.migrate, "migrate", "", "run a migration command and exit: up, down or status")
	fs.BoolVar(&opts.sweepOnce, "sweep-once", false, "expire overdue assignments once and exit")
	fs.BoolVar(&opts.seed, "seed", false, "insert the sample task catalogue and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch opts.migrate {
	case "", "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unknown migrate command %q", opts.migrate)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run loads configuration and performs the requested command. Without a
// one-shot flag it serves HTTP until ctx is cancelled.
func run(ctx context.Context, opts options) error {
	cfg, err := loadAppConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}

	b, err := setupAppDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.db.Close(); err != nil {
			logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}()

	if opts.migrate != "" {
		return handleMigrations(ctx, b, opts.migrate, logger)
	}

	// The server and one-shot commands always run against the latest schema.
	if err := b.migrate(ctx, b.db, logger); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if opts.seed {
		n, err := seedTasks(ctx, b.tasks, sampleTasks(), logger)
		if err != nil {
			return err
		}
		logger.Info("sample tasks seeded", slog.Int("count", n))
		return nil
	}

	app, err := newApplication(ctx, cfg, logger, b)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if opts.sweepOnce {
		n, err := app.sweeper.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		logger.Info("sweep finished", slog.Int64("expired", n))
		return nil
	}

	return app.Run(ctx)
}
