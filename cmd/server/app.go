package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/phrazzld/scry-quests/internal/config"
	"github.com/phrazzld/scry-quests/internal/events"
	"github.com/phrazzld/scry-quests/internal/metrics"
	"github.com/phrazzld/scry-quests/internal/platform/nats"
	"github.com/phrazzld/scry-quests/internal/platform/redis"
	"github.com/phrazzld/scry-quests/internal/platform/telemetry"
	"github.com/phrazzld/scry-quests/internal/service/auth"
	"github.com/phrazzld/scry-quests/internal/service/progress"
	"github.com/phrazzld/scry-quests/internal/store"
	"github.com/phrazzld/scry-quests/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// application holds the shared dependencies and owns their cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *backend

	registry  *prometheus.Registry
	telemetry *telemetry.Provider

	jwtService auth.JWTService
	engine     progress.Engine

	dispatcher *events.AsyncDispatcher
	publisher  *nats.CompletionPublisher
	natsConn   *natsio.Conn
	redis      *goredis.Client

	sweeper *sweeper.Sweeper
}

// newApplication wires every component on top of an open backend. On
// error, whatever was already started is released.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, b *backend) (_ *application, err error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       b,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(app.registry, "quests")

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	tasks, err := app.setupTaskStore(ctx, b.tasks)
	if err != nil {
		return nil, err
	}

	sink, err := app.setupEventSink(ctx)
	if err != nil {
		return nil, err
	}

	app.dispatcher = events.NewAsyncDispatcher(sink, events.DispatcherConfig{
		QueueSize:   cfg.Events.QueueSize,
		WorkerCount: cfg.Events.WorkerCount,
	}, logger)
	app.dispatcher.SetErrorHandler(func(event *events.CompletionEvent, err error) {
		collector.RecordEmitFailure("delivery")
		logger.Error("completion event delivery failed",
			slog.String("error", err.Error()),
			slog.String("event_id", event.ID.String()),
			slog.String("assignment_id", event.Context.AssignmentID.String()))
	})
	app.dispatcher.Start()

	app.engine, err = progress.NewEngine(tasks, b.assignments, app.dispatcher, progress.Config{
		MaxRetries:      cfg.Engine.MaxRetries,
		DefaultPageSize: cfg.Engine.DefaultPageSize,
		MaxPageSize:     cfg.Engine.MaxPageSize,
	}, logger,
		progress.WithMetrics(collector),
		progress.WithTracer(app.telemetry.Tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress engine: %w", err)
	}

	app.sweeper, err = sweeper.New(app.engine, sweeper.Config{Schedule: cfg.Sweeper.Schedule}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}

	logger.Info("application initialized",
		slog.String("driver", b.driver),
		slog.Bool("nats_enabled", app.publisher != nil),
		slog.Bool("cache_enabled", app.redis != nil),
		slog.Bool("telemetry_enabled", cfg.Telemetry.Enabled))
	return app, nil
}

// setupTaskStore wraps the task store in the Redis cache when configured.
func (app *application) setupTaskStore(ctx context.Context, tasks store.TaskStore) (store.TaskStore, error) {
	if app.config.Cache.RedisAddr == "" {
		return tasks, nil
	}

	client, err := redis.NewClient(ctx, app.config.Cache.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = client

	ttl := time.Duration(app.config.Cache.TTLSeconds) * time.Second
	return redis.NewCachedTaskStore(tasks, client, ttl, app.logger), nil
}

// setupEventSink returns the emitter the dispatcher delivers to: JetStream
// when a NATS URL is configured, otherwise an in-process emitter that logs
// each completion.
func (app *application) setupEventSink(ctx context.Context) (events.EventEmitter, error) {
	cfg := app.config.Events
	if cfg.NATSURL == "" {
		emitter := events.NewInMemoryEventEmitter(app.logger)
		emitter.RegisterHandler(completionLogger(app.logger))
		return emitter, nil
	}

	conn, err := nats.Connect(cfg.NATSURL, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	app.natsConn = conn

	app.publisher, err = nats.NewCompletionPublisher(conn, nats.PublisherConfig{
		Stream:        cfg.Stream,
		SubjectPrefix: cfg.SubjectPrefix,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion publisher: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.publisher.EnsureStream(streamCtx); err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}
	return app.publisher, nil
}

// completionLogger records completions when no broker is configured.
func completionLogger(logger *slog.Logger) events.EventHandler {
	log := logger.With(slog.String("component", "completion_log"))
	return events.EventHandlerFunc(func(_ context.Context, event *events.CompletionEvent) error {
		log.Info("task completed",
			slog.String("event_id", event.ID.String()),
			slog.String("user_id", event.UserID.String()),
			slog.String("task_id", event.TargetID.String()),
			slog.String("assignment_id", event.Context.AssignmentID.String()))
		return nil
	})
}

// cleanup releases resources in reverse order of creation. The database
// connection is closed by the caller that opened it.
func (app *application) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
	defer cancel()

	if app.dispatcher != nil {
		if err := app.dispatcher.Stop(ctx); err != nil {
			app.logger.Error("failed to drain event dispatcher",
				slog.String("error", err.Error()),
				slog.Int("pending", app.dispatcher.Pending()))
		}
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("failed to close completion publisher", slog.String("error", err.Error()))
		}
	} else if app.natsConn != nil {
		app.natsConn.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if app.telemetry != nil {
		if err := app.telemetry.Shutdown(ctx); err != nil {
			app.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("application shutdown completed")
}

func (app *application) shutdownTimeout() time.Duration {
	if s := app.config.Server.ShutdownTimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 10 * time.Second
}
