package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus is the lifecycle state of a user's assignment.
type AssignmentStatus string

// Possible assignment status values. Completed and expired are terminal.
const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
	AssignmentStatusExpired    AssignmentStatus = "expired"
)

// Validation errors for Assignment
var (
	ErrEmptyAssignmentID       = fmt.Errorf("%w: assignment ID cannot be empty", ErrValidation)
	ErrEmptyAssignmentTaskID   = fmt.Errorf("%w: assignment task ID cannot be empty", ErrValidation)
	ErrEmptyAssignmentUserID   = fmt.Errorf("%w: assignment user ID cannot be empty", ErrValidation)
	ErrEmptyCycleKey           = fmt.Errorf("%w: cycle key cannot be empty", ErrValidation)
	ErrInvalidAssignmentStatus = fmt.Errorf("%w: invalid assignment status", ErrValidation)
	ErrInvalidTarget           = fmt.Errorf("%w: target must be positive", ErrValidation)
	ErrProgressOutOfRange      = fmt.Errorf("%w: progress must be between 0 and target", ErrValidation)
	ErrNonPositiveDelta        = fmt.Errorf("%w: delta must be positive", ErrValidation)
)

// Assignment is one user's instance of a task for a single cycle.
// Exactly one assignment exists per (TaskID, UserID, CycleKey).
type Assignment struct {
	ID          uuid.UUID        `json:"id"`
	TaskID      uuid.UUID        `json:"task_id"`
	UserID      uuid.UUID        `json:"user_id"`
	CycleKey    string           `json:"cycle_key"`
	Status      AssignmentStatus `json:"status"`
	Progress    int              `json:"progress"`
	Target      int              `json:"target"`
	ClaimedAt   time.Time        `json:"claimed_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ExpiredAt   *time.Time       `json:"expired_at,omitempty"`
	Snapshot    Payload          `json:"snapshot"`
	Version     int              `json:"version"`
	Context     Payload          `json:"context"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewAssignment builds the in-progress assignment created on first claim or
// reconciliation for a cycle. ExpiredAt is the task's publish window end.
func NewAssignment(task *Task, userID uuid.UUID, cycleKey string, now time.Time) (*Assignment, error) {
	var expiredAt *time.Time
	if task.PublishEndAt != nil {
		end := *task.PublishEndAt
		expiredAt = &end
	}

	a := &Assignment{
		ID:        uuid.New(),
		TaskID:    task.ID,
		UserID:    userID,
		CycleKey:  cycleKey,
		Status:    AssignmentStatusInProgress,
		Progress:  0,
		Target:    task.TargetCount,
		ClaimedAt: now,
		ExpiredAt: expiredAt,
		Snapshot:  task.Snapshot(),
		Version:   1,
		Context:   Payload{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks if the Assignment has valid data.
func (a *Assignment) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyAssignmentID
	}
	if a.TaskID == uuid.Nil {
		return ErrEmptyAssignmentTaskID
	}
	if a.UserID == uuid.Nil {
		return ErrEmptyAssignmentUserID
	}
	if a.CycleKey == "" {
		return ErrEmptyCycleKey
	}
	if !IsValidAssignmentStatus(a.Status) {
		return ErrInvalidAssignmentStatus
	}
	if a.Target <= 0 {
		return ErrInvalidTarget
	}
	if a.Progress < 0 || a.Progress > a.Target {
		return ErrProgressOutOfRange
	}
	return nil
}

// IsTerminal reports whether the assignment can no longer change.
func (a *Assignment) IsTerminal() bool {
	return a.Status == AssignmentStatusCompleted || a.Status == AssignmentStatusExpired
}

// Advance returns a copy with delta applied, clamped at the target.
// Reaching the target moves the copy to completed. The receiver is unchanged.
func (a *Assignment) Advance(delta int, now time.Time) (*Assignment, error) {
	if delta <= 0 {
		return nil, ErrNonPositiveDelta
	}
	if !CanTransition(a.Status, AssignmentStatusInProgress) {
		return nil, ErrTerminalAssignment
	}

	next := *a
	next.Progress = min(a.Target, a.Progress+delta)
	if next.Status == AssignmentStatusPending {
		next.Status = AssignmentStatusInProgress
	}
	if next.Progress >= next.Target {
		next.Status = AssignmentStatusCompleted
		completedAt := now
		next.CompletedAt = &completedAt
	}
	next.UpdatedAt = now
	return &next, nil
}

// Complete returns a completed copy with progress raised to at least the target.
func (a *Assignment) Complete(now time.Time) (*Assignment, error) {
	if !CanTransition(a.Status, AssignmentStatusCompleted) {
		return nil, ErrTerminalAssignment
	}

	next := *a
	next.Progress = max(a.Progress, a.Target)
	next.Status = AssignmentStatusCompleted
	completedAt := now
	next.CompletedAt = &completedAt
	next.UpdatedAt = now
	return &next, nil
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Terminal states have no outgoing transitions.
func CanTransition(from, to AssignmentStatus) bool {
	switch from {
	case AssignmentStatusPending:
		return to == AssignmentStatusInProgress ||
			to == AssignmentStatusCompleted ||
			to == AssignmentStatusExpired
	case AssignmentStatusInProgress:
		return to == AssignmentStatusInProgress ||
			to == AssignmentStatusCompleted ||
			to == AssignmentStatusExpired
	default:
		return false
	}
}

// IsValidAssignmentStatus checks if the given status is a known AssignmentStatus.
func IsValidAssignmentStatus(s AssignmentStatus) bool {
	switch s {
	case AssignmentStatusPending, AssignmentStatusInProgress,
		AssignmentStatusCompleted, AssignmentStatusExpired:
		return true
	default:
		return false
	}
}
