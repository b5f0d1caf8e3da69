package sqlite

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

// availableTaskPredicate expects the formatted current time bound to
// both of its placeholders.
const availableTaskPredicate = `
	status = 'published'
	AND is_enabled = 1
	AND (publish_start_at IS NULL OR publish_start_at <= ?)
	AND (publish_end_at IS NULL OR publish_end_at >= ?)`

// TaskStore implements store.TaskStore on SQLite.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewTaskStore creates a TaskStore over db. If logger is nil, a default
// logger will be used.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*TaskStore)(nil)

// GetByID implements store.TaskStore.GetByID.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
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
func (s *TaskStore) ListAvailable(
	ctx context.Context,
	q store.TaskQuery,
	now time.Time,
) ([]*domain.Task, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	ts := formatTime(now)
	where := availableTaskPredicate + ` AND (? = '' OR type = ?)`
	args := []any{ts, ts, string(q.Type), string(q.Type)}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		log.Error("failed to count available tasks", slog.String("error", err.Error()))
		return nil, 0, MapError(err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + `
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ? OFFSET ?`

	tasks, err := s.queryTasks(ctx, query, append(args, noLimit(q.Limit), q.Offset)...)
	if err != nil {
		log.Error("failed to list available tasks", slog.String("error", err.Error()))
		return nil, 0, err
	}
	return tasks, total, nil
}

// ListEligibleAutoTasks implements store.TaskStore.ListEligibleAutoTasks.
func (s *TaskStore) ListEligibleAutoTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	ts := formatTime(now)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + availableTaskPredicate + `
		AND claim_mode = 'auto'
		ORDER BY priority DESC, created_at ASC, id ASC`

	tasks, err := s.queryTasks(ctx, query, ts, ts)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list auto-claim tasks",
			slog.String("error", err.Error()))
		return nil, err
	}
	return tasks, nil
}

// Upsert inserts or replaces a task definition. Used for seeding and tests.
func (s *TaskStore) Upsert(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	reward, err := jsonText(task.RewardConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code,
			title = excluded.title,
			type = excluded.type,
			status = excluded.status,
			priority = excluded.priority,
			is_enabled = excluded.is_enabled,
			claim_mode = excluded.claim_mode,
			complete_mode = excluded.complete_mode,
			target_count = excluded.target_count,
			reward_config = excluded.reward_config,
			publish_start_at = excluded.publish_start_at,
			publish_end_at = excluded.publish_end_at,
			repeat_rule = excluded.repeat_rule,
			updated_at = excluded.updated_at`,
		task.ID.String(),
		task.Code,
		task.Title,
		string(task.Type),
		string(task.Status),
		task.Priority,
		task.IsEnabled,
		string(task.ClaimMode),
		string(task.CompleteMode),
		task.TargetCount,
		reward,
		formatNullTime(task.PublishStartAt),
		formatNullTime(task.PublishEndAt),
		string(task.RepeatRule),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		log.Error("failed to upsert task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Debug("task upserted", slog.String("task_code", task.Code))
	return nil
}

func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
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

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                 domain.Task
		typ, status          string
		claim, finish        string
		repeat               string
		start, end           sql.NullString
		createdAt, updatedAt string
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(typ)
	task.Status = domain.TaskStatus(status)
	task.ClaimMode = domain.Mode(claim)
	task.CompleteMode = domain.Mode(finish)
	task.RepeatRule = domain.RepeatRule(repeat)

	if task.PublishStartAt, err = parseNullTime(start); err != nil {
		return nil, err
	}
	if task.PublishEndAt, err = parseNullTime(end); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}
