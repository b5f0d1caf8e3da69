package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

const (
	// DomainTask identifies the task engine as the event source.
	DomainTask = "task"

	// EventKeyTaskComplete is the key of the completion event.
	EventKeyTaskComplete = "task.complete"
)

// CompletionContext is the payload consumers need to grant a reward.
type CompletionContext struct {
	TaskID       uuid.UUID      `json:"taskId"`
	AssignmentID uuid.UUID      `json:"assignmentId"`
	RewardConfig domain.Payload `json:"rewardConfig"`
}

// CompletionEvent announces that an assignment reached completed.
type CompletionEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Domain   string `json:"domain"`
	EventKey string `json:"eventKey"`

	UserID uuid.UUID `json:"userId"`

	// TargetID is the completed task
	TargetID uuid.UUID `json:"targetId"`

	OccurredAt time.Time         `json:"occurredAt"`
	Context    CompletionContext `json:"context"`
}

// NewCompletionEvent builds the event for a completed assignment. The
// reward configuration is read from the snapshot frozen at claim time.
func NewCompletionEvent(a *domain.Assignment, occurredAt time.Time) *CompletionEvent {
	reward := domain.Payload{}
	if raw, ok := a.Snapshot["reward_config"].(map[string]any); ok {
		reward = domain.Payload(raw).Clone()
	}

	return &CompletionEvent{
		ID:         uuid.New(),
		Domain:     DomainTask,
		EventKey:   EventKeyTaskComplete,
		UserID:     a.UserID,
		TargetID:   a.TaskID,
		OccurredAt: occurredAt,
		Context: CompletionContext{
			TaskID:       a.TaskID,
			AssignmentID: a.ID,
			RewardConfig: reward,
		},
	}
}

// Marshal encodes the event as JSON.
func (e *CompletionEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *CompletionEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *CompletionEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *CompletionEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the engine to publish events without knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *CompletionEvent) error
}
