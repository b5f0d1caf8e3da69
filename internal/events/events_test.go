package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventHandler records the events it receives.
type MockEventHandler struct {
	mu           sync.Mutex
	HandledCount int
	LastEvent    *CompletionEvent
	HandlerError error
}

func (m *MockEventHandler) HandleEvent(ctx context.Context, event *CompletionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandledCount++
	m.LastEvent = event
	return m.HandlerError
}

func (m *MockEventHandler) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HandledCount
}

func completedAssignment(t *testing.T) *domain.Assignment {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ID:           uuid.New(),
		Code:         "review-ten",
		Type:         domain.TaskTypeDaily,
		Status:       domain.TaskStatusPublished,
		IsEnabled:    true,
		ClaimMode:    domain.ModeAuto,
		CompleteMode: domain.ModeAuto,
		TargetCount:  1,
		RewardConfig: domain.Payload{"xp": float64(10)},
		RepeatRule:   domain.RepeatDaily,
	}
	a, err := domain.NewAssignment(task, uuid.New(), "2025-03-10", now)
	require.NoError(t, err)
	done, err := a.Advance(1, now)
	require.NoError(t, err)
	return done
}

func TestNewCompletionEvent(t *testing.T) {
	a := completedAssignment(t)
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	event := NewCompletionEvent(a, at)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, DomainTask, event.Domain)
	assert.Equal(t, EventKeyTaskComplete, event.EventKey)
	assert.Equal(t, a.UserID, event.UserID)
	assert.Equal(t, a.TaskID, event.TargetID)
	assert.Equal(t, at, event.OccurredAt)
	assert.Equal(t, a.ID, event.Context.AssignmentID)
	assert.Equal(t, a.TaskID, event.Context.TaskID)
	assert.Equal(t, float64(10), event.Context.RewardConfig["xp"])

	// Each call yields a distinct event ID.
	assert.NotEqual(t, event.ID, NewCompletionEvent(a, at).ID)
}

func TestNewCompletionEvent_MissingReward(t *testing.T) {
	a := completedAssignment(t)
	delete(a.Snapshot, "reward_config")

	event := NewCompletionEvent(a, time.Now())
	assert.NotNil(t, event.Context.RewardConfig)
	assert.Empty(t, event.Context.RewardConfig)
}

func TestCompletionEvent_Marshal(t *testing.T) {
	a := completedAssignment(t)
	event := NewCompletionEvent(a, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	data, err := event.Marshal()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "task", wire["domain"])
	assert.Equal(t, "task.complete", wire["eventKey"])
	assert.Equal(t, a.UserID.String(), wire["userId"])
	assert.Equal(t, a.TaskID.String(), wire["targetId"])
	assert.Equal(t, "2025-03-10T12:00:00Z", wire["occurredAt"])

	ctx, ok := wire["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, a.ID.String(), ctx["assignmentId"])
	assert.Equal(t, a.TaskID.String(), ctx["taskId"])
	assert.Equal(t, map[string]any{"xp": float64(10)}, ctx["rewardConfig"])
}

func TestEventHandlerFunc(t *testing.T) {
	var got *CompletionEvent
	h := EventHandlerFunc(func(ctx context.Context, event *CompletionEvent) error {
		got = event
		return errors.New("handled")
	})

	event := NewCompletionEvent(completedAssignment(t), time.Now())
	err := h.HandleEvent(context.Background(), event)
	assert.EqualError(t, err, "handled")
	assert.Same(t, event, got)
}
