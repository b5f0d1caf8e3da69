package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run serves HTTP and runs the sweeper until ctx is cancelled or the
// listener fails, then shuts both down within the configured timeout.
func (app *application) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(app.config.Server.Port)),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app.serve(ctx, server, nil)
}

// serve runs server on ln, or on server.Addr when ln is nil.
func (app *application) serve(ctx context.Context, server *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if app.config.Sweeper.Enabled {
		if err := app.sweeper.Start(gctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	g.Go(func() error {
		app.logger.Info("starting server", slog.String("addr", server.Addr))

		var err error
		if ln != nil {
			err = server.Serve(ln)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
		defer cancel()

		var errs []error
		if app.config.Sweeper.Enabled {
			if err := app.sweeper.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("sweeper shutdown failed: %w", err))
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		app.logger.Error("server stopped with error", slog.String("error", err.Error()))
		return err
	}
	app.logger.Info("server shutdown completed")
	return nil
}
