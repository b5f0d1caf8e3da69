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

const assignmentColumns = `
	id, task_id, user_id, cycle_key, status, progress, target, claimed_at,
	completed_at, expired_at, snapshot, version, context, created_at, updated_at`

const logColumns = `
	id, assignment_id, user_id, action, delta, before_progress, after_progress,
	context, idempotency_key, created_at`

// PostgresAssignmentStore implements the store.AssignmentStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAssignmentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAssignmentStore creates a new PostgreSQL implementation of the AssignmentStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresAssignmentStore(db store.DBTX, logger *slog.Logger) *PostgresAssignmentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAssignmentStore{
		db:     db,
		logger: logger.With(slog.String("component", "assignment_store")),
	}
}

// Ensure PostgresAssignmentStore implements store.AssignmentStore interface
var _ store.AssignmentStore = (*PostgresAssignmentStore)(nil)

// WithTx implements store.AssignmentStore.WithTx.
func (s *PostgresAssignmentStore) WithTx(tx *sql.Tx) store.AssignmentStore {
	return &PostgresAssignmentStore{
		db:     tx,
		logger: s.logger,
	}
}

// GetByID implements store.AssignmentStore.GetByID.
func (s *PostgresAssignmentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return getAssignment(ctx, s.db, s.logger,
		`SELECT `+assignmentColumns+` FROM task_assignments WHERE id = $1`,
		slog.String("assignment_id", id.String()), id)
}

// FindByKey implements store.AssignmentStore.FindByKey.
func (s *PostgresAssignmentStore) FindByKey(
	ctx context.Context,
	taskID, userID uuid.UUID,
	cycleKey string,
) (*domain.Assignment, error) {
	return getAssignment(ctx, s.db, s.logger,
		`SELECT `+assignmentColumns+` FROM task_assignments
		 WHERE task_id = $1 AND user_id = $2 AND cycle_key = $3`,
		slog.String("cycle_key", cycleKey), taskID, userID, cycleKey)
}

func getAssignment(
	ctx context.Context,
	db store.DBTX,
	fallback *slog.Logger,
	query string,
	attr slog.Attr,
	args ...any,
) (*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, fallback)

	a, err := scanAssignment(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("assignment not found", attr)
			return nil, store.ErrAssignmentNotFound
		}
		log.Error("failed to get assignment", slog.String("error", err.Error()), attr)
		return nil, MapError(err)
	}
	return a, nil
}

// CreateIfAbsent implements store.AssignmentStore.CreateIfAbsent.
// The insert relies on the (task_id, user_id, cycle_key) unique index; a
// losing concurrent insert falls through to reading the winner's row.
func (s *PostgresAssignmentStore) CreateIfAbsent(
	ctx context.Context,
	a *domain.Assignment,
	claimLog *domain.ProgressLog,
) (*domain.Assignment, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := a.Validate(); err != nil {
		log.Warn("assignment validation failed during create",
			slog.String("error", err.Error()),
			slog.String("assignment_id", a.ID.String()))
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	var (
		result  *domain.Assignment
		created bool
	)

	err := store.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO task_assignments (` + assignmentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (task_id, user_id, cycle_key) DO NOTHING
			RETURNING id`

		var insertedID uuid.UUID
		err := tx.QueryRowContext(ctx, query,
			a.ID,
			a.TaskID,
			a.UserID,
			a.CycleKey,
			a.Status,
			a.Progress,
			a.Target,
			a.ClaimedAt,
			a.CompletedAt,
			a.ExpiredAt,
			a.Snapshot,
			a.Version,
			a.Context,
			a.CreatedAt,
			a.UpdatedAt,
		).Scan(&insertedID)

		switch {
		case err == nil:
			if claimLog != nil {
				if err := insertLog(ctx, tx, claimLog); err != nil {
					return err
				}
			}
			stored := *a
			result, created = &stored, true
			return nil
		case errors.Is(err, sql.ErrNoRows):
			existing, err := getAssignment(ctx, tx, s.logger,
				`SELECT `+assignmentColumns+` FROM task_assignments
				 WHERE task_id = $1 AND user_id = $2 AND cycle_key = $3`,
				slog.String("cycle_key", a.CycleKey), a.TaskID, a.UserID, a.CycleKey)
			if err != nil {
				return err
			}
			result = existing
			return nil
		default:
			return MapError(err)
		}
	})
	if err != nil {
		log.Error("failed to create assignment",
			slog.String("error", err.Error()),
			slog.String("task_id", a.TaskID.String()),
			slog.String("user_id", a.UserID.String()))
		return nil, false, err
	}

	if created {
		log.Info("assignment created",
			slog.String("assignment_id", result.ID.String()),
			slog.String("task_id", result.TaskID.String()),
			slog.String("cycle_key", result.CycleKey))
	}
	return result, created, nil
}

// UpdateWithVersion implements store.AssignmentStore.UpdateWithVersion.
func (s *PostgresAssignmentStore) UpdateWithVersion(
	ctx context.Context,
	a *domain.Assignment,
	expectedVersion int,
	entry *domain.ProgressLog,
) (*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := a.Validate(); err != nil {
		log.Warn("assignment validation failed during update",
			slog.String("error", err.Error()),
			slog.String("assignment_id", a.ID.String()))
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	var newVersion int
	err := store.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			UPDATE task_assignments
			SET status = $1, progress = $2, completed_at = $3, expired_at = $4,
				context = $5, version = version + 1, updated_at = $6
			WHERE id = $7 AND version = $8
			RETURNING version`

		err := tx.QueryRowContext(ctx, query,
			a.Status,
			a.Progress,
			a.CompletedAt,
			a.ExpiredAt,
			a.Context,
			a.UpdatedAt,
			a.ID,
			expectedVersion,
		).Scan(&newVersion)
		if errors.Is(err, sql.ErrNoRows) {
			return classifyMissedUpdate(ctx, tx, a.ID)
		}
		if err != nil {
			return MapError(err)
		}

		if entry != nil {
			return insertLog(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		if store.IsVersionConflict(err) {
			log.Debug("assignment version conflict",
				slog.String("assignment_id", a.ID.String()),
				slog.Int("expected_version", expectedVersion))
		} else if !errors.Is(err, store.ErrDuplicateProgressEvent) {
			log.Error("failed to update assignment",
				slog.String("error", err.Error()),
				slog.String("assignment_id", a.ID.String()))
		}
		return nil, err
	}

	updated := *a
	updated.Version = newVersion
	return &updated, nil
}

// classifyMissedUpdate distinguishes a lost compare-and-swap from a row
// that does not exist.
func classifyMissedUpdate(ctx context.Context, db store.DBTX, id uuid.UUID) error {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM task_assignments WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrAssignmentNotFound
	}
	return store.ErrVersionConflict
}

// BulkExpire implements store.AssignmentStore.BulkExpire.
// Expiring the rows and writing their log entries happen in one statement,
// so two overlapping sweeps can never expire or log the same row twice.
func (s *PostgresAssignmentStore) BulkExpire(ctx context.Context, now time.Time) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		WITH expired AS (
			UPDATE task_assignments
			SET status = 'expired', version = version + 1, updated_at = $1
			WHERE status IN ('pending', 'in_progress')
				AND expired_at IS NOT NULL
				AND expired_at <= $1
			RETURNING id, user_id, progress
		), logged AS (
			INSERT INTO task_progress_logs (` + logColumns + `)
			SELECT gen_random_uuid(), id, user_id, 'expire', 0, progress, progress,
				'{}'::jsonb, NULL, $1
			FROM expired
			RETURNING 1
		)
		SELECT COUNT(*) FROM logged`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		log.Error("failed to expire assignments", slog.String("error", err.Error()))
		return 0, store.NewStoreError("assignment", "bulk_expire", "expire overdue assignments", MapError(err))
	}

	if count > 0 {
		log.Info("expired assignments", slog.Int64("count", count))
	}
	return count, nil
}

// ListByUser implements store.AssignmentStore.ListByUser.
// The type filter reads the task snapshot frozen at claim time.
func (s *PostgresAssignmentStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	q store.AssignmentQuery,
) ([]*domain.Assignment, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	where := `user_id = $1
		AND ($2 = '' OR status = $2)
		AND ($3 = '' OR snapshot->>'type' = $3)`

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_assignments WHERE `+where,
		userID, string(q.Status), string(q.Type),
	).Scan(&total)
	if err != nil {
		log.Error("failed to count user assignments",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, 0, MapError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM task_assignments WHERE `+where+`
		 ORDER BY claimed_at DESC, id ASC
		 LIMIT $4 OFFSET $5`,
		userID, string(q.Status), string(q.Type), nullableLimit(q.Limit), q.Offset,
	)
	if err != nil {
		log.Error("failed to list user assignments",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, 0, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, MapError(err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, MapError(err)
	}

	return assignments, total, nil
}

// ListLogs implements store.AssignmentStore.ListLogs.
func (s *PostgresAssignmentStore) ListLogs(ctx context.Context, assignmentID uuid.UUID) ([]*domain.ProgressLog, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM task_progress_logs WHERE assignment_id = $1 ORDER BY seq`,
		assignmentID,
	)
	if err != nil {
		log.Error("failed to list progress logs",
			slog.String("error", err.Error()),
			slog.String("assignment_id", assignmentID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*domain.ProgressLog
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, MapError(err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return logs, nil
}

// FindLogByIdempotencyKey implements store.AssignmentStore.FindLogByIdempotencyKey.
func (s *PostgresAssignmentStore) FindLogByIdempotencyKey(
	ctx context.Context,
	assignmentID uuid.UUID,
	key string,
) (*domain.ProgressLog, error) {
	entry, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM task_progress_logs
		 WHERE assignment_id = $1 AND idempotency_key = $2`,
		assignmentID, key,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, MapError(err)
	}
	return entry, nil
}

func insertLog(ctx context.Context, db store.DBTX, entry *domain.ProgressLog) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO task_progress_logs (`+logColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.AssignmentID,
		entry.UserID,
		entry.Action,
		entry.Delta,
		entry.Before,
		entry.After,
		entry.Context,
		nullableString(entry.IdempotencyKey),
		entry.CreatedAt,
	)
	return MapError(err)
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var (
		a                    domain.Assignment
		status               string
		completedAt, expires sql.NullTime
	)

	err := row.Scan(
		&a.ID,
		&a.TaskID,
		&a.UserID,
		&a.CycleKey,
		&status,
		&a.Progress,
		&a.Target,
		&a.ClaimedAt,
		&completedAt,
		&expires,
		&a.Snapshot,
		&a.Version,
		&a.Context,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AssignmentStatus(status)
	a.CompletedAt = timePtr(completedAt)
	a.ExpiredAt = timePtr(expires)
	a.ClaimedAt = a.ClaimedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanLog(row rowScanner) (*domain.ProgressLog, error) {
	var (
		entry  domain.ProgressLog
		action string
		key    sql.NullString
	)

	err := row.Scan(
		&entry.ID,
		&entry.AssignmentID,
		&entry.UserID,
		&action,
		&entry.Delta,
		&entry.Before,
		&entry.After,
		&entry.Context,
		&key,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Action = domain.LogAction(action)
	entry.IdempotencyKey = key.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
