package progress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/events"
	"github.com/phrazzld/scry-quests/internal/metrics"
	"github.com/phrazzld/scry-quests/internal/platform/sqlite"
	"github.com/phrazzld/scry-quests/internal/store"
	"github.com/phrazzld/scry-quests/internal/testdb"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingEmitter collects emitted events and optionally fails.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.CompletionEvent
	err    error
}

func (r *recordingEmitter) EmitEvent(ctx context.Context, event *events.CompletionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEmitter) Events() []*events.CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.CompletionEvent(nil), r.events...)
}

// countingMetrics counts the measurements the tests assert on.
type countingMetrics struct {
	metrics.NopMetrics
	mu           sync.Mutex
	conflicts    int
	exhausted    int
	replays      int
	emitFailures []string
	expired      int64
}

func (m *countingMetrics) RecordVersionConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) RecordRetriesExhausted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted++
}

func (m *countingMetrics) RecordIdempotentReplay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replays++
}

func (m *countingMetrics) RecordEmitFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitFailures = append(m.emitFailures, reason)
}

func (m *countingMetrics) RecordExpired(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += n
}

type fixture struct {
	engine      Engine
	tasks       *sqlite.TaskStore
	assignments store.AssignmentStore
	clock       *fakeClock
	emitter     *recordingEmitter
	metrics     *countingMetrics
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	config      Config
	assignments func(store.AssignmentStore) store.AssignmentStore
}

func withConfig(cfg Config) fixtureOption {
	return func(f *fixtureConfig) { f.config = cfg }
}

func withAssignmentStore(wrap func(store.AssignmentStore) store.AssignmentStore) fixtureOption {
	return func(f *fixtureConfig) { f.assignments = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := testdb.NewSQLiteDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		tasks:       sqlite.NewTaskStore(db, log),
		assignments: sqlite.NewAssignmentStore(db, log),
		clock:       &fakeClock{now: baseTime},
		emitter:     &recordingEmitter{},
		metrics:     &countingMetrics{},
	}
	if cfg.assignments != nil {
		f.assignments = cfg.assignments(f.assignments)
	}

	engine, err := NewEngine(f.tasks, f.assignments, f.emitter, cfg.config, log,
		WithClock(f.clock.Now),
		WithMetrics(f.metrics))
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) seed(t *testing.T, code string, mutate ...func(*domain.Task)) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:           uuid.New(),
		Code:         code,
		Title:        "Task " + code,
		Type:         domain.TaskTypeDaily,
		Status:       domain.TaskStatusPublished,
		IsEnabled:    true,
		ClaimMode:    domain.ModeManual,
		CompleteMode: domain.ModeAuto,
		TargetCount:  3,
		RewardConfig: domain.Payload{"xp": float64(15)},
		RepeatRule:   domain.RepeatDaily,
		CreatedAt:    baseTime.Add(-time.Hour),
		UpdatedAt:    baseTime.Add(-time.Hour),
	}
	for _, m := range mutate {
		m(task)
	}
	require.NoError(t, f.tasks.Upsert(context.Background(), task))
	return task
}

func (f *fixture) logs(t *testing.T, assignmentID uuid.UUID) []*domain.ProgressLog {
	t.Helper()
	logs, err := f.assignments.ListLogs(context.Background(), assignmentID)
	require.NoError(t, err)
	return logs
}

func autoClaim(task *domain.Task) { task.ClaimMode = domain.ModeAuto }

func manualComplete(task *domain.Task) { task.CompleteMode = domain.ModeManual }

func endsAt(end time.Time) func(*domain.Task) {
	return func(task *domain.Task) { task.PublishEndAt = &end }
}

func startsAt(start time.Time) func(*domain.Task) {
	return func(task *domain.Task) { task.PublishStartAt = &start }
}

func target(n int) func(*domain.Task) {
	return func(task *domain.Task) { task.TargetCount = n }
}
