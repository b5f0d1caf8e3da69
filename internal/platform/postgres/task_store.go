package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
	"github.com/phrazzld/scry-quests/internal/store"
)

const taskColumns = `
	id, code, title, type, status, priority, is_enabled, claim_mode, complete_mode,
	target_count, reward_config, publish_start_at, publish_end_at, repeat_rule,
	created_at, updated_at`

// availableTaskPredicate selects published, enabled tasks whose publish
// window contains $1. Both bounds are inclusive.
const availableTaskPredicate = `
	status = 'published'
	AND is_enabled
	AND (publish_start_at IS NULL OR publish_start_at <= $1)
	AND (publish_end_at IS NULL OR publish_end_at >= $1)`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// GetByID implements store.TaskStore.GetByID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// ListAvailable implements store.TaskStore.ListAvailable.
func (s *PostgresTaskStore) ListAvailable(
	ctx context.Context,
	q store.TaskQuery,
	now time.Time,
) ([]*domain.Task, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	where := availableTaskPredicate + ` AND ($2 = '' OR type = $2)`

	var total int
	countQuery := `SELECT COUNT(*) FROM tasks WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, now, string(q.Type)).Scan(&total); err != nil {
		log.Error("failed to count available tasks", slog.String("error", err.Error()))
		return nil, 0, MapError(err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + `
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $3 OFFSET $4`

	tasks, err := s.queryTasks(ctx, query, now, string(q.Type), nullableLimit(q.Limit), q.Offset)
	if err != nil {
		log.Error("failed to list available tasks", slog.String("error", err.Error()))
		return nil, 0, err
	}

	log.Debug("listed available tasks",
		slog.Int("count", len(tasks)),
		slog.Int("total", total))
	return tasks, total, nil
}

// ListEligibleAutoTasks implements store.TaskStore.ListEligibleAutoTasks.
func (s *PostgresTaskStore) ListEligibleAutoTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + availableTaskPredicate + `
		AND claim_mode = 'auto'
		ORDER BY priority DESC, created_at ASC, id ASC`

	tasks, err := s.queryTasks(ctx, query, now)
	if err != nil {
		log.Error("failed to list auto-claim tasks", slog.String("error", err.Error()))
		return nil, err
	}
	return tasks, nil
}

// Upsert inserts or replaces a task definition. The engine never calls it;
// it exists for seeding and for tests.
func (s *PostgresTaskStore) Upsert(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during upsert",
			slog.String("error", err.Error()),
			slog.String("task_code", task.Code))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			is_enabled = EXCLUDED.is_enabled,
			claim_mode = EXCLUDED.claim_mode,
			complete_mode = EXCLUDED.complete_mode,
			target_count = EXCLUDED.target_count,
			reward_config = EXCLUDED.reward_config,
			publish_start_at = EXCLUDED.publish_start_at,
			publish_end_at = EXCLUDED.publish_end_at,
			repeat_rule = EXCLUDED.repeat_rule,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Code,
		task.Title,
		task.Type,
		task.Status,
		task.Priority,
		task.IsEnabled,
		task.ClaimMode,
		task.CompleteMode,
		task.TargetCount,
		task.RewardConfig,
		task.PublishStartAt,
		task.PublishEndAt,
		task.RepeatRule,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to upsert task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task upserted",
		slog.String("task_id", task.ID.String()),
		slog.String("task_code", task.Code))
	return nil
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task          domain.Task
		start, end    sql.NullTime
		typ, status   string
		claim, finish string
		repeat        string
	)

	err := row.Scan(
		&task.ID,
		&task.Code,
		&task.Title,
		&typ,
		&status,
		&task.Priority,
		&task.IsEnabled,
		&claim,
		&finish,
		&task.TargetCount,
		&task.RewardConfig,
		&start,
		&end,
		&repeat,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(typ)
	task.Status = domain.TaskStatus(status)
	task.ClaimMode = domain.Mode(claim)
	task.CompleteMode = domain.Mode(finish)
	task.RepeatRule = domain.RepeatRule(repeat)
	task.PublishStartAt = timePtr(start)
	task.PublishEndAt = timePtr(end)
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// nullableLimit maps a non-positive limit to NULL, which PostgreSQL reads
// as "no limit".
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
