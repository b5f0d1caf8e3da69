package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogAction identifies the mutation a progress log row records.
type LogAction string

// Possible log actions
const (
	LogActionClaim    LogAction = "claim"
	LogActionProgress LogAction = "progress"
	LogActionComplete LogAction = "complete"
	LogActionExpire   LogAction = "expire"
)

// ProgressLog is an append-only audit row. Every assignment mutation is
// written together with exactly one log row.
type ProgressLog struct {
	ID             uuid.UUID `json:"id"`
	AssignmentID   uuid.UUID `json:"assignment_id"`
	UserID         uuid.UUID `json:"user_id"`
	Action         LogAction `json:"action"`
	Delta          int       `json:"delta"`
	Before         int       `json:"before"`
	After          int       `json:"after"`
	Context        Payload   `json:"context"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewClaimLog records the creation of an assignment.
func NewClaimLog(a *Assignment, now time.Time) *ProgressLog {
	return &ProgressLog{
		ID:           uuid.New(),
		AssignmentID: a.ID,
		UserID:       a.UserID,
		Action:       LogActionClaim,
		Delta:        0,
		Before:       a.Progress,
		After:        a.Progress,
		Context:      Payload{},
		CreatedAt:    now,
	}
}

// NewTransitionLog records a change from before to after. The action is
// complete when after reached the completed state, progress otherwise.
func NewTransitionLog(before, after *Assignment, delta int, ctx Payload, now time.Time) *ProgressLog {
	action := LogActionProgress
	if after.Status == AssignmentStatusCompleted {
		action = LogActionComplete
	}
	if ctx == nil {
		ctx = Payload{}
	}
	return &ProgressLog{
		ID:           uuid.New(),
		AssignmentID: before.ID,
		UserID:       before.UserID,
		Action:       action,
		Delta:        delta,
		Before:       before.Progress,
		After:        after.Progress,
		Context:      ctx,
		CreatedAt:    now,
	}
}
