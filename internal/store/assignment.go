package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

// AssignmentQuery narrows a user's assignment listing. Zero values mean "no filter".
type AssignmentQuery struct {
	Status domain.AssignmentStatus
	Type   domain.TaskType
	Limit  int
	Offset int
}

// AssignmentStore defines persistence for assignments and their audit log.
//
// Implementations guarantee that:
//   - at most one assignment exists per (task, user, cycle key),
//   - every assignment write commits together with its log row or not at all,
//   - a write presenting a stale version is rejected with ErrVersionConflict.
type AssignmentStore interface {
	// GetByID retrieves an assignment by its unique ID.
	// Returns ErrAssignmentNotFound if the assignment does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)

	// FindByKey retrieves the assignment for a task, user and cycle.
	// Returns ErrAssignmentNotFound if none exists yet.
	FindByKey(ctx context.Context, taskID, userID uuid.UUID, cycleKey string) (*domain.Assignment, error)

	// CreateIfAbsent inserts the assignment together with its claim log.
	// If an assignment already exists for the same key, the stored row is
	// returned with created=false and no log row is written. Concurrent
	// callers all observe the same row.
	CreateIfAbsent(
		ctx context.Context,
		assignment *domain.Assignment,
		claimLog *domain.ProgressLog,
	) (*domain.Assignment, bool, error)

	// UpdateWithVersion persists the assignment state and appends log in one
	// atomic unit, provided the stored version still equals expectedVersion.
	// The returned assignment carries the incremented version.
	// Returns ErrVersionConflict when the version moved on, and
	// ErrDuplicateProgressEvent when log repeats an idempotency key.
	UpdateWithVersion(
		ctx context.Context,
		assignment *domain.Assignment,
		expectedVersion int,
		log *domain.ProgressLog,
	) (*domain.Assignment, error)

	// BulkExpire moves every pending or in-progress assignment whose expiry
	// is at or before now to expired, writing one expire log per row.
	// It is idempotent and safe to call concurrently. Returns the row count.
	BulkExpire(ctx context.Context, now time.Time) (int64, error)

	// ListByUser returns the user's assignments, newest claim first, and the
	// total number of matches ignoring Limit and Offset.
	ListByUser(ctx context.Context, userID uuid.UUID, q AssignmentQuery) ([]*domain.Assignment, int, error)

	// ListLogs returns the audit trail of an assignment in insertion order.
	ListLogs(ctx context.Context, assignmentID uuid.UUID) ([]*domain.ProgressLog, error)

	// FindLogByIdempotencyKey returns the log row recorded for the key.
	// Returns ErrNotFound if the key has not been used for the assignment.
	FindLogByIdempotencyKey(ctx context.Context, assignmentID uuid.UUID, key string) (*domain.ProgressLog, error)

	// WithTx returns an AssignmentStore bound to the provided transaction.
	// Writes then join the caller's transaction instead of opening their own.
	WithTx(tx *sql.Tx) AssignmentStore
}
