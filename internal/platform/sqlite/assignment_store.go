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

const assignmentColumns = `
	id, task_id, user_id, cycle_key, status, progress, target, claimed_at,
	completed_at, expired_at, snapshot, version, context, created_at, updated_at`

const logColumns = `
	id, assignment_id, user_id, action, delta, before_progress, after_progress,
	context, idempotency_key, created_at`

const findByKeyQuery = `SELECT ` + assignmentColumns + ` FROM task_assignments
	WHERE task_id = ? AND user_id = ? AND cycle_key = ?`

// AssignmentStore implements store.AssignmentStore on SQLite.
type AssignmentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewAssignmentStore creates an AssignmentStore over db. If logger is nil,
// a default logger will be used.
func NewAssignmentStore(db store.DBTX, logger *slog.Logger) *AssignmentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssignmentStore{
		db:     db,
		logger: logger.With(slog.String("component", "assignment_store")),
	}
}

var _ store.AssignmentStore = (*AssignmentStore)(nil)

// WithTx implements store.AssignmentStore.WithTx.
func (s *AssignmentStore) WithTx(tx *sql.Tx) store.AssignmentStore {
	return &AssignmentStore{db: tx, logger: s.logger}
}

// GetByID implements store.AssignmentStore.GetByID.
func (s *AssignmentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return s.getOne(ctx, s.db,
		`SELECT `+assignmentColumns+` FROM task_assignments WHERE id = ?`, id.String())
}

// FindByKey implements store.AssignmentStore.FindByKey.
func (s *AssignmentStore) FindByKey(
	ctx context.Context,
	taskID, userID uuid.UUID,
	cycleKey string,
) (*domain.Assignment, error) {
	return s.getOne(ctx, s.db, findByKeyQuery, taskID.String(), userID.String(), cycleKey)
}

func (s *AssignmentStore) getOne(ctx context.Context, db store.DBTX, query string, args ...any) (*domain.Assignment, error) {
	a, err := scanAssignment(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAssignmentNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get assignment",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return a, nil
}

// CreateIfAbsent implements store.AssignmentStore.CreateIfAbsent.
func (s *AssignmentStore) CreateIfAbsent(
	ctx context.Context,
	a *domain.Assignment,
	claimLog *domain.ProgressLog,
) (*domain.Assignment, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := a.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	snapshot, err := jsonText(a.Snapshot)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	assignmentCtx, err := jsonText(a.Context)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	var (
		result  *domain.Assignment
		created bool
	)

	err = store.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var insertedID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO task_assignments (`+assignmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (task_id, user_id, cycle_key) DO NOTHING
			RETURNING id`,
			a.ID.String(),
			a.TaskID.String(),
			a.UserID.String(),
			a.CycleKey,
			string(a.Status),
			a.Progress,
			a.Target,
			formatTime(a.ClaimedAt),
			formatNullTime(a.CompletedAt),
			formatNullTime(a.ExpiredAt),
			snapshot,
			a.Version,
			assignmentCtx,
			formatTime(a.CreatedAt),
			formatTime(a.UpdatedAt),
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
			existing, err := s.getOne(ctx, tx, findByKeyQuery,
				a.TaskID.String(), a.UserID.String(), a.CycleKey)
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
			slog.String("cycle_key", result.CycleKey))
	}
	return result, created, nil
}

// UpdateWithVersion implements store.AssignmentStore.UpdateWithVersion.
func (s *AssignmentStore) UpdateWithVersion(
	ctx context.Context,
	a *domain.Assignment,
	expectedVersion int,
	entry *domain.ProgressLog,
) (*domain.Assignment, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	assignmentCtx, err := jsonText(a.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	var newVersion int
	err = store.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE task_assignments
			SET status = ?, progress = ?, completed_at = ?, expired_at = ?,
				context = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
			RETURNING version`,
			string(a.Status),
			a.Progress,
			formatNullTime(a.CompletedAt),
			formatNullTime(a.ExpiredAt),
			assignmentCtx,
			formatTime(a.UpdatedAt),
			a.ID.String(),
			expectedVersion,
		).Scan(&newVersion)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM task_assignments WHERE id = ?)`, a.ID.String(),
			).Scan(&exists); err != nil {
				return MapError(err)
			}
			if !exists {
				return store.ErrAssignmentNotFound
			}
			return store.ErrVersionConflict
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
		if !store.IsVersionConflict(err) && !errors.Is(err, store.ErrDuplicateProgressEvent) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to update assignment",
				slog.String("error", err.Error()),
				slog.String("assignment_id", a.ID.String()))
		}
		return nil, err
	}

	updated := *a
	updated.Version = newVersion
	return &updated, nil
}

// BulkExpire implements store.AssignmentStore.BulkExpire.
// The update and its log inserts share one transaction; SQLite serializes
// writers, so overlapping sweeps cannot expire the same row twice.
func (s *AssignmentStore) BulkExpire(ctx context.Context, now time.Time) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	ts := formatTime(now)

	type expiredRow struct {
		id, userID string
		progress   int
	}

	var count int64
	err := store.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE task_assignments
			SET status = 'expired', version = version + 1, updated_at = ?
			WHERE status IN ('pending', 'in_progress')
				AND expired_at IS NOT NULL
				AND expired_at <= ?
			RETURNING id, user_id, progress`,
			ts, ts,
		)
		if err != nil {
			return MapError(err)
		}

		var expired []expiredRow
		for rows.Next() {
			var r expiredRow
			if err := rows.Scan(&r.id, &r.userID, &r.progress); err != nil {
				_ = rows.Close()
				return MapError(err)
			}
			expired = append(expired, r)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return MapError(err)
		}
		if err := rows.Close(); err != nil {
			return MapError(err)
		}

		for _, r := range expired {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_progress_logs (`+logColumns+`)
				 VALUES (?, ?, ?, 'expire', 0, ?, ?, '{}', NULL, ?)`,
				uuid.NewString(), r.id, r.userID, r.progress, r.progress, ts,
			); err != nil {
				return MapError(err)
			}
		}
		count = int64(len(expired))
		return nil
	})
	if err != nil {
		log.Error("failed to expire assignments", slog.String("error", err.Error()))
		return 0, store.NewStoreError("assignment", "bulk_expire", "expire overdue assignments", err)
	}

	if count > 0 {
		log.Info("expired assignments", slog.Int64("count", count))
	}
	return count, nil
}

// ListByUser implements store.AssignmentStore.ListByUser.
func (s *AssignmentStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	q store.AssignmentQuery,
) ([]*domain.Assignment, int, error) {
	where := `user_id = ?
		AND (? = '' OR status = ?)
		AND (? = '' OR json_extract(snapshot, '$.type') = ?)`
	args := []any{
		userID.String(),
		string(q.Status), string(q.Status),
		string(q.Type), string(q.Type),
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_assignments WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, MapError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM task_assignments WHERE `+where+`
		 ORDER BY claimed_at DESC, id ASC
		 LIMIT ? OFFSET ?`,
		append(args, noLimit(q.Limit), q.Offset)...,
	)
	if err != nil {
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
func (s *AssignmentStore) ListLogs(ctx context.Context, assignmentID uuid.UUID) ([]*domain.ProgressLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM task_progress_logs WHERE assignment_id = ? ORDER BY seq`,
		assignmentID.String(),
	)
	if err != nil {
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
func (s *AssignmentStore) FindLogByIdempotencyKey(
	ctx context.Context,
	assignmentID uuid.UUID,
	key string,
) (*domain.ProgressLog, error) {
	entry, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM task_progress_logs
		 WHERE assignment_id = ? AND idempotency_key = ?`,
		assignmentID.String(), key,
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
	logCtx, err := jsonText(entry.Context)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO task_progress_logs (`+logColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(),
		entry.AssignmentID.String(),
		entry.UserID.String(),
		string(entry.Action),
		entry.Delta,
		entry.Before,
		entry.After,
		logCtx,
		nullableString(entry.IdempotencyKey),
		formatTime(entry.CreatedAt),
	)
	return MapError(err)
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var (
		a                    domain.Assignment
		status               string
		claimedAt            string
		completedAt, expires sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&a.ID,
		&a.TaskID,
		&a.UserID,
		&a.CycleKey,
		&status,
		&a.Progress,
		&a.Target,
		&claimedAt,
		&completedAt,
		&expires,
		&a.Snapshot,
		&a.Version,
		&a.Context,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AssignmentStatus(status)
	if a.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if a.ExpiredAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanLog(row rowScanner) (*domain.ProgressLog, error) {
	var (
		entry     domain.ProgressLog
		action    string
		key       sql.NullString
		createdAt string
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
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Action = domain.LogAction(action)
	entry.IdempotencyKey = key.String
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
