// Package sweeper periodically expires assignments whose expiry has passed.
//
// Sweeps are single conditional updates, so several instances may run the
// sweeper against the same database without coordination.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// DefaultTimeout bounds a single sweep.
const DefaultTimeout = time.Minute

// Expirer performs one expiration pass and reports how many assignments
// changed.
type Expirer interface {
	ExpireAssignments(ctx context.Context) (int64, error)
}

// Config holds the sweeper settings.
type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@every 5m".
	Schedule string

	// Timeout bounds a single sweep. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Sweeper runs an Expirer on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	expirer  Expirer
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cronlib.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Sweeper. The schedule is validated eagerly.
func New(expirer Expirer, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if expirer == nil {
		return nil, errors.New("expirer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if _, err := cronlib.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", cfg.Schedule, err)
	}

	return &Sweeper{
		expirer:  expirer,
		schedule: cfg.Schedule,
		timeout:  cfg.Timeout,
		logger:   logger.With(slog.String("component", "expiration_sweeper")),
	}, nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	started := time.Now()

	n, err := s.expirer.ExpireAssignments(ctx)
	if err != nil {
		s.logger.Error("sweep failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(started)))
		return 0, err
	}

	s.logger.Debug("sweep finished",
		slog.Int64("expired", n),
		slog.Duration("duration", time.Since(started)))
	return n, nil
}

// Start schedules sweeps until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	cronLogger := &slogCronLogger{logger: s.logger}
	c := cronlib.New(
		cronlib.WithLogger(cronLogger),
		cronlib.WithChain(
			cronlib.Recover(cronLogger),
			cronlib.SkipIfStillRunning(cronLogger),
		),
	)

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("expiration sweeper started", slog.String("schedule", s.schedule))
	return nil
}

// Stop prevents further sweeps and waits for a running one to finish, or
// until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		s.logger.Info("expiration sweeper stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("sweeper shutdown: %w", ctx.Err())
	}
}

func (s *Sweeper) sweep() {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	_, _ = s.RunOnce(ctx)
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
