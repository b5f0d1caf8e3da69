package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/domain/cycle"
	"github.com/phrazzld/scry-quests/internal/events"
	"github.com/phrazzld/scry-quests/internal/metrics"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
	"github.com/phrazzld/scry-quests/internal/platform/telemetry"
	"github.com/phrazzld/scry-quests/internal/store"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config tunes the engine.
type Config struct {
	// MaxRetries is how many times a lost version race is retried.
	MaxRetries int

	// DefaultPageSize applies when a filter leaves the page size unset.
	DefaultPageSize int

	// MaxPageSize caps the page size of listings.
	MaxPageSize int
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, DefaultPageSize: 20, MaxPageSize: 100}
}

// Option customizes an engine.
type Option func(*engineImpl)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *engineImpl) { e.clock = now }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *engineImpl) { e.metrics = c }
}

// WithTracer sets the tracer engine spans are started on.
func WithTracer(t trace.Tracer) Option {
	return func(e *engineImpl) { e.tracer = t }
}

// engineImpl implements the Engine interface
type engineImpl struct {
	tasks       store.TaskStore
	assignments store.AssignmentStore
	emitter     events.EventEmitter
	config      Config
	clock       func() time.Time
	metrics     metrics.Collector
	tracer      trace.Tracer
	logger      *slog.Logger
}

var _ Engine = (*engineImpl)(nil)

// NewEngine creates the progress engine. emitter may be nil, in which case
// completions are only logged.
// It returns an error if any of the required stores are nil.
func NewEngine(
	tasks store.TaskStore,
	assignments store.AssignmentStore,
	emitter events.EventEmitter,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) (Engine, error) {
	if tasks == nil {
		return nil, NewServiceError("new_engine", "task store cannot be nil", ErrValidation)
	}
	if assignments == nil {
		return nil, NewServiceError("new_engine", "assignment store cannot be nil", ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = defaults.DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = defaults.MaxPageSize
	}

	e := &engineImpl{
		tasks:       tasks,
		assignments: assignments,
		emitter:     emitter,
		config:      config,
		clock:       time.Now,
		metrics:     metrics.NewNop(),
		tracer:      nooptrace.NewTracerProvider().Tracer(telemetry.TracerName),
		logger:      logger.With(slog.String("component", "progress_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// now is computed once per operation. Microsecond precision matches what
// both storage backends keep.
func (e *engineImpl) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

// observe finishes the span and latency metric of an operation.
func (e *engineImpl) observe(op string, started time.Time, span trace.Span, err error) {
	e.metrics.ObserveOperation(op, resultLabel(err), time.Since(started).Seconds())
	telemetry.EndSpan(span, err)
}

// GetAvailableTasks implements Engine.GetAvailableTasks
func (e *engineImpl) GetAvailableTasks(
	ctx context.Context,
	filter TaskFilter,
	userID uuid.UUID,
) (page *TaskPage, err error) {
	const op = "get_available_tasks"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op, telemetry.AttrUserID.String(userID.String()))
	defer func() { e.observe(op, started, span, err) }()

	log := logger.FromContextOrDefault(ctx, e.logger)

	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}
	if filter.Type != "" && !domain.IsValidTaskType(filter.Type) {
		return nil, ErrInvalidFilter
	}
	pageNum, size, err := e.paging(filter.Page, filter.PageSize)
	if err != nil {
		return nil, err
	}

	now := e.now()
	tasks, total, err := e.tasks.ListAvailable(ctx, store.TaskQuery{
		Type:   filter.Type,
		Limit:  size,
		Offset: (pageNum - 1) * size,
	}, now)
	if err != nil {
		log.Error("failed to list available tasks", slog.String("error", err.Error()))
		return nil, NewServiceError(op, "failed to list tasks", err)
	}

	for _, task := range tasks {
		if !task.IsAutoClaim() {
			continue
		}
		if _, _, err := e.EnsureAssignment(ctx, task, userID, now); err != nil {
			log.Warn("failed to reconcile auto-claim assignment",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()),
				slog.String("user_id", userID.String()))
		}
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return &TaskPage{Items: tasks, Total: total, Page: pageNum, PageSize: size}, nil
}

// GetMyTasks implements Engine.GetMyTasks
func (e *engineImpl) GetMyTasks(
	ctx context.Context,
	filter AssignmentFilter,
	userID uuid.UUID,
) (page *AssignmentPage, err error) {
	const op = "get_my_tasks"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op, telemetry.AttrUserID.String(userID.String()))
	defer func() { e.observe(op, started, span, err) }()

	log := logger.FromContextOrDefault(ctx, e.logger)

	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}
	if filter.Type != "" && !domain.IsValidTaskType(filter.Type) {
		return nil, ErrInvalidFilter
	}
	if filter.Status != "" && !domain.IsValidAssignmentStatus(filter.Status) {
		return nil, ErrInvalidFilter
	}
	pageNum, size, err := e.paging(filter.Page, filter.PageSize)
	if err != nil {
		return nil, err
	}

	now := e.now()
	autoTasks, err := e.tasks.ListEligibleAutoTasks(ctx, now)
	if err != nil {
		log.Warn("failed to load auto-claim tasks for reconciliation", slog.String("error", err.Error()))
	}
	for _, task := range autoTasks {
		if _, _, err := e.EnsureAssignment(ctx, task, userID, now); err != nil {
			log.Warn("failed to reconcile auto-claim assignment",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()),
				slog.String("user_id", userID.String()))
		}
	}

	items, total, err := e.assignments.ListByUser(ctx, userID, store.AssignmentQuery{
		Status: filter.Status,
		Type:   filter.Type,
		Limit:  size,
		Offset: (pageNum - 1) * size,
	})
	if err != nil {
		log.Error("failed to list assignments",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, NewServiceError(op, "failed to list assignments", err)
	}

	if items == nil {
		items = []*domain.Assignment{}
	}
	return &AssignmentPage{Items: items, Total: total, Page: pageNum, PageSize: size}, nil
}

// ClaimTask implements Engine.ClaimTask
func (e *engineImpl) ClaimTask(ctx context.Context, taskID, userID uuid.UUID) (a *domain.Assignment, err error) {
	const op = "claim_task"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op,
		telemetry.AttrTaskID.String(taskID.String()),
		telemetry.AttrUserID.String(userID.String()))
	defer func() { e.observe(op, started, span, err) }()

	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}

	task, err := e.loadActiveTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !task.InPublishWindow(now) {
		return nil, ErrOutsidePublishWindow
	}

	a, _, err = e.EnsureAssignment(ctx, task, userID, now)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReportProgress implements Engine.ReportProgress
func (e *engineImpl) ReportProgress(ctx context.Context, report ProgressReport) (a *domain.Assignment, err error) {
	const op = "report_progress"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op,
		telemetry.AttrTaskID.String(report.TaskID.String()),
		telemetry.AttrUserID.String(report.UserID.String()))
	defer func() { e.observe(op, started, span, err) }()

	log := logger.FromContextOrDefault(ctx, e.logger)

	if report.Delta <= 0 {
		return nil, ErrInvalidDelta
	}
	if report.UserID == uuid.Nil {
		return nil, ErrInvalidUser
	}

	task, err := e.loadActiveTask(ctx, op, report.TaskID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	current, err := e.currentAssignment(ctx, op, task, report.UserID, now)
	if errors.Is(err, ErrNotClaimed) && task.IsAutoClaim() {
		if !task.InPublishWindow(now) {
			return nil, ErrOutsidePublishWindow
		}
		current, _, err = e.EnsureAssignment(ctx, task, report.UserID, now)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(telemetry.AttrAssignmentID.String(current.ID.String()))

	if report.IdempotencyKey != "" {
		_, err := e.assignments.FindLogByIdempotencyKey(ctx, current.ID, report.IdempotencyKey)
		switch {
		case err == nil:
			e.metrics.RecordIdempotentReplay()
			log.Debug("progress event already recorded",
				slog.String("assignment_id", current.ID.String()),
				slog.String("idempotency_key", report.IdempotencyKey))
			return current, nil
		case !store.IsNotFoundError(err):
			return nil, NewServiceError(op, "failed to check idempotency key", err)
		}
	}

	return e.mutate(ctx, op, current, now, func(a *domain.Assignment) (*domain.Assignment, *domain.ProgressLog, error) {
		next, err := a.Advance(report.Delta, now)
		if err != nil {
			return nil, nil, err
		}
		entry := domain.NewTransitionLog(a, next, report.Delta, report.Context.Clone(), now)
		entry.IdempotencyKey = report.IdempotencyKey
		return next, entry, nil
	})
}

// CompleteTask implements Engine.CompleteTask
func (e *engineImpl) CompleteTask(ctx context.Context, taskID, userID uuid.UUID) (a *domain.Assignment, err error) {
	const op = "complete_task"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op,
		telemetry.AttrTaskID.String(taskID.String()),
		telemetry.AttrUserID.String(userID.String()))
	defer func() { e.observe(op, started, span, err) }()

	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}

	task, err := e.loadActiveTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	current, err := e.currentAssignment(ctx, op, task, userID, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(telemetry.AttrAssignmentID.String(current.ID.String()))

	return e.mutate(ctx, op, current, now, func(a *domain.Assignment) (*domain.Assignment, *domain.ProgressLog, error) {
		if task.CompleteMode == domain.ModeAuto && a.Progress < a.Target {
			return nil, nil, ErrProgressNotMet
		}
		next, err := a.Complete(now)
		if err != nil {
			return nil, nil, err
		}
		return next, domain.NewTransitionLog(a, next, next.Progress-a.Progress, nil, now), nil
	})
}

// ExpireAssignments implements Engine.ExpireAssignments
func (e *engineImpl) ExpireAssignments(ctx context.Context) (n int64, err error) {
	const op = "expire_assignments"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op)
	defer func() { e.observe(op, started, span, err) }()

	log := logger.FromContextOrDefault(ctx, e.logger)

	now := e.now()
	n, err = e.assignments.BulkExpire(ctx, now)
	if err != nil {
		log.Error("failed to expire assignments", slog.String("error", err.Error()))
		return 0, NewServiceError(op, "failed to expire assignments", err)
	}

	e.metrics.RecordExpired(n)
	if n > 0 {
		log.Info("expired assignments", slog.Int64("count", n))
	}
	return n, nil
}

// EnsureAssignment implements Engine.EnsureAssignment
func (e *engineImpl) EnsureAssignment(
	ctx context.Context,
	task *domain.Task,
	userID uuid.UUID,
	now time.Time,
) (*domain.Assignment, bool, error) {
	const op = "ensure_assignment"
	log := logger.FromContextOrDefault(ctx, e.logger)

	key, err := cycle.Key(task.RepeatRule, now)
	if err != nil {
		return nil, false, NewServiceError(op, "failed to resolve cycle", err)
	}

	existing, err := e.assignments.FindByKey(ctx, task.ID, userID, key)
	if err == nil {
		e.metrics.RecordClaim(string(task.Type), false)
		return existing, false, nil
	}
	if !store.IsNotFoundError(err) {
		return nil, false, NewServiceError(op, "failed to load assignment", err)
	}

	candidate, err := domain.NewAssignment(task, userID, key, now)
	if err != nil {
		return nil, false, NewServiceError(op, "failed to build assignment", err)
	}

	a, created, err := e.assignments.CreateIfAbsent(ctx, candidate, domain.NewClaimLog(candidate, now))
	if err != nil {
		log.Error("failed to create assignment",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("user_id", userID.String()),
			slog.String("cycle_key", key))
		return nil, false, NewServiceError(op, "failed to create assignment", err)
	}

	e.metrics.RecordClaim(string(task.Type), created)
	if created {
		log.Info("assignment created",
			slog.String("assignment_id", a.ID.String()),
			slog.String("task_id", task.ID.String()),
			slog.String("cycle_key", key))
	}
	return a, created, nil
}

// GetAssignmentHistory implements Engine.GetAssignmentHistory
func (e *engineImpl) GetAssignmentHistory(
	ctx context.Context,
	assignmentID, userID uuid.UUID,
) (logs []*domain.ProgressLog, err error) {
	const op = "get_assignment_history"
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "progress."+op,
		telemetry.AttrAssignmentID.String(assignmentID.String()))
	defer func() { e.observe(op, started, span, err) }()

	a, err := e.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, NewServiceError(op, "failed to load assignment", err)
	}
	if a.UserID != userID {
		return nil, ErrAssignmentNotFound
	}

	logs, err = e.assignments.ListLogs(ctx, assignmentID)
	if err != nil {
		return nil, NewServiceError(op, "failed to list logs", err)
	}
	if logs == nil {
		logs = []*domain.ProgressLog{}
	}
	return logs, nil
}

// transition computes the next state of a non-terminal assignment and the
// log row recording it.
type transition func(a *domain.Assignment) (*domain.Assignment, *domain.ProgressLog, error)

// mutate applies next to the assignment with a version compare-and-swap,
// re-reading and recomputing on conflicts up to MaxRetries times.
// Terminal assignments are returned unchanged.
func (e *engineImpl) mutate(
	ctx context.Context,
	op string,
	current *domain.Assignment,
	now time.Time,
	next transition,
) (*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	for attempt := 0; ; attempt++ {
		if current.IsTerminal() {
			log.Debug("assignment already terminal, nothing to do",
				slog.String("assignment_id", current.ID.String()),
				slog.String("status", string(current.Status)))
			return current, nil
		}

		updated, entry, err := next(current)
		if err != nil {
			return nil, err
		}

		saved, err := e.assignments.UpdateWithVersion(ctx, updated, current.Version, entry)
		switch {
		case err == nil:
			e.metrics.RecordProgress(string(entry.Action))
			if saved.Status == domain.AssignmentStatusCompleted {
				e.announceCompletion(ctx, saved, now)
			}
			return saved, nil

		case errors.Is(err, store.ErrDuplicateProgressEvent):
			// A concurrent report with the same key won the race.
			e.metrics.RecordIdempotentReplay()
			return e.reload(ctx, op, current.ID)

		case errors.Is(err, store.ErrVersionConflict):
			e.metrics.RecordVersionConflict(op)
			if attempt >= e.config.MaxRetries {
				e.metrics.RecordRetriesExhausted(op)
				log.Warn("giving up after repeated version conflicts",
					slog.String("assignment_id", current.ID.String()),
					slog.Int("attempts", attempt+1))
				return nil, ErrConflict
			}
			log.Debug("version conflict, retrying",
				slog.String("assignment_id", current.ID.String()),
				slog.Int("attempt", attempt+1))
			if current, err = e.reload(ctx, op, current.ID); err != nil {
				return nil, err
			}

		default:
			log.Error("failed to update assignment",
				slog.String("error", err.Error()),
				slog.String("assignment_id", current.ID.String()))
			return nil, NewServiceError(op, "failed to update assignment", err)
		}
	}
}

func (e *engineImpl) reload(ctx context.Context, op string, id uuid.UUID) (*domain.Assignment, error) {
	a, err := e.assignments.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError(op, "failed to reload assignment", err)
	}
	return a, nil
}

// announceCompletion hands the completion event to the emitter. The
// assignment is already committed, so failures are logged and counted only.
func (e *engineImpl) announceCompletion(ctx context.Context, a *domain.Assignment, now time.Time) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	taskType, _ := a.Snapshot["type"].(string)
	e.metrics.RecordCompletion(taskType)

	event := events.NewCompletionEvent(a, now)
	log.Info("assignment completed",
		slog.String("assignment_id", a.ID.String()),
		slog.String("task_id", a.TaskID.String()),
		slog.String("event_id", event.ID.String()))

	if e.emitter == nil {
		return
	}
	if err := e.emitter.EmitEvent(ctx, event); err != nil {
		reason := "handler"
		switch {
		case errors.Is(err, events.ErrQueueFull):
			reason = "queue_full"
		case errors.Is(err, events.ErrQueueClosed):
			reason = "queue_closed"
		}
		e.metrics.RecordEmitFailure(reason)
		log.Error("failed to emit completion event",
			slog.String("error", err.Error()),
			slog.String("assignment_id", a.ID.String()),
			slog.String("event_id", event.ID.String()))
	}
}

// loadActiveTask returns the task if it exists and is published and enabled.
func (e *engineImpl) loadActiveTask(ctx context.Context, op string, taskID uuid.UUID) (*domain.Task, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, NewServiceError(op, "failed to load task", err)
	}
	if !task.IsActive() {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// currentAssignment loads the user's assignment for the cycle containing now.
// Returns ErrNotClaimed if there is none.
func (e *engineImpl) currentAssignment(
	ctx context.Context,
	op string,
	task *domain.Task,
	userID uuid.UUID,
	now time.Time,
) (*domain.Assignment, error) {
	key, err := cycle.Key(task.RepeatRule, now)
	if err != nil {
		return nil, NewServiceError(op, "failed to resolve cycle", err)
	}

	a, err := e.assignments.FindByKey(ctx, task.ID, userID, key)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrNotClaimed
		}
		return nil, NewServiceError(op, "failed to load assignment", err)
	}
	return a, nil
}

// paging normalizes a page number and size.
func (e *engineImpl) paging(page, size int) (int, int, error) {
	if page < 0 || size < 0 {
		return 0, 0, ErrInvalidFilter
	}
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = e.config.DefaultPageSize
	}
	return page, min(size, e.config.MaxPageSize), nil
}
