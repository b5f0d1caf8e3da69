// Package progress implements the task progress engine: it resolves the
// cycle an operation belongs to, materializes per-user assignments, applies
// progress under optimistic concurrency and announces completions.
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

// TaskFilter narrows an available-task listing. Page numbers start at 1.
type TaskFilter struct {
	Type     domain.TaskType
	Page     int
	PageSize int
}

// AssignmentFilter narrows a user's assignment listing. Page numbers start at 1.
type AssignmentFilter struct {
	Status   domain.AssignmentStatus
	Type     domain.TaskType
	Page     int
	PageSize int
}

// TaskPage is one page of available tasks.
type TaskPage struct {
	Items    []*domain.Task `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// AssignmentPage is one page of a user's assignments.
type AssignmentPage struct {
	Items    []*domain.Assignment `json:"items"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ProgressReport is one progress increment reported for a user.
type ProgressReport struct {
	TaskID uuid.UUID
	UserID uuid.UUID
	Delta  int

	// Context is stored verbatim on the progress log row.
	Context domain.Payload

	// IdempotencyKey optionally deduplicates reports. A key already recorded
	// for the assignment makes the report a no-op.
	IdempotencyKey string
}

// Engine is the progress engine.
type Engine interface {
	// GetAvailableTasks lists active tasks whose publish window contains now,
	// highest priority first. Every listed auto-claim task gets an assignment
	// for the current cycle as a side effect; failures there are logged and
	// do not fail the listing.
	GetAvailableTasks(ctx context.Context, filter TaskFilter, userID uuid.UUID) (*TaskPage, error)

	// GetMyTasks reconciles assignments for every eligible auto-claim task and
	// then lists the user's assignments, newest claim first.
	GetMyTasks(ctx context.Context, filter AssignmentFilter, userID uuid.UUID) (*AssignmentPage, error)

	// ClaimTask returns the user's assignment for the task's current cycle,
	// creating it together with a claim log row if needed.
	//
	// Returns:
	//   - ErrTaskNotFound if the task is missing, disabled or unpublished
	//   - ErrOutsidePublishWindow if now is outside the publish window
	ClaimTask(ctx context.Context, taskID, userID uuid.UUID) (*domain.Assignment, error)

	// ReportProgress adds a positive delta to the user's assignment. The
	// assignment is created first for auto-claim tasks. Terminal assignments
	// are returned unchanged. Reaching the target completes the assignment
	// and emits exactly one completion event.
	//
	// Returns:
	//   - ErrInvalidDelta if the delta is not positive
	//   - ErrTaskNotFound if the task is missing, disabled or unpublished
	//   - ErrNotClaimed if a manual-claim task has no assignment
	//   - ErrConflict if concurrent writers exhausted the retries
	ReportProgress(ctx context.Context, report ProgressReport) (*domain.Assignment, error)

	// CompleteTask completes the user's assignment explicitly. Terminal
	// assignments are returned unchanged. For auto-complete tasks the
	// progress must already have met the target.
	//
	// Returns:
	//   - ErrNotClaimed if no assignment exists for the current cycle
	//   - ErrProgressNotMet if an auto-complete task is below target
	//   - ErrConflict if concurrent writers exhausted the retries
	CompleteTask(ctx context.Context, taskID, userID uuid.UUID) (*domain.Assignment, error)

	// ExpireAssignments moves every open assignment whose expiry has passed
	// to expired and returns how many rows changed. No events are emitted.
	ExpireAssignments(ctx context.Context) (int64, error)

	// EnsureAssignment is the idempotent reconciliation primitive: it returns
	// the assignment of task for the cycle containing now, creating it if
	// absent. created reports whether this call inserted the row.
	EnsureAssignment(
		ctx context.Context,
		task *domain.Task,
		userID uuid.UUID,
		now time.Time,
	) (assignment *domain.Assignment, created bool, err error)

	// GetAssignmentHistory returns the audit trail of one of the user's
	// assignments. Another user's assignment is reported as not found.
	GetAssignmentHistory(ctx context.Context, assignmentID, userID uuid.UUID) ([]*domain.ProgressLog, error)
}
