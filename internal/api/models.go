package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

// ReportProgressRequest is the body of POST /api/tasks/{id}/progress.
type ReportProgressRequest struct {
	Delta          int            `json:"delta"           validate:"required,gt=0"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key" validate:"omitempty,max=128"`
}

// TaskResponse is the client view of a task definition.
type TaskResponse struct {
	ID             uuid.UUID      `json:"id"`
	Code           string         `json:"code"`
	Title          string         `json:"title"`
	Type           string         `json:"type"`
	Priority       int            `json:"priority"`
	ClaimMode      string         `json:"claim_mode"`
	CompleteMode   string         `json:"complete_mode"`
	TargetCount    int            `json:"target_count"`
	RepeatRule     string         `json:"repeat_rule"`
	RewardConfig   map[string]any `json:"reward_config"`
	PublishStartAt *time.Time     `json:"publish_start_at,omitempty"`
	PublishEndAt   *time.Time     `json:"publish_end_at,omitempty"`
}

// AssignmentResponse is the client view of a user's assignment. Task holds
// the definition snapshot taken when the assignment was created.
type AssignmentResponse struct {
	ID          uuid.UUID      `json:"id"`
	TaskID      uuid.UUID      `json:"task_id"`
	CycleKey    string         `json:"cycle_key"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Target      int            `json:"target"`
	ClaimedAt   time.Time      `json:"claimed_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ExpiredAt   *time.Time     `json:"expired_at,omitempty"`
	Version     int            `json:"version"`
	Task        map[string]any `json:"task"`
}

// ProgressLogResponse is one audit entry of an assignment.
type ProgressLogResponse struct {
	ID             uuid.UUID      `json:"id"`
	Action         string         `json:"action"`
	Delta          int            `json:"delta"`
	Before         int            `json:"before"`
	After          int            `json:"after"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PageResponse is one page of a listing.
type PageResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		Code:           t.Code,
		Title:          t.Title,
		Type:           string(t.Type),
		Priority:       t.Priority,
		ClaimMode:      string(t.ClaimMode),
		CompleteMode:   string(t.CompleteMode),
		TargetCount:    t.TargetCount,
		RepeatRule:     string(t.RepeatRule),
		RewardConfig:   t.RewardConfig.Clone(),
		PublishStartAt: t.PublishStartAt,
		PublishEndAt:   t.PublishEndAt,
	}
}

func assignmentToResponse(a *domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:          a.ID,
		TaskID:      a.TaskID,
		CycleKey:    a.CycleKey,
		Status:      string(a.Status),
		Progress:    a.Progress,
		Target:      a.Target,
		ClaimedAt:   a.ClaimedAt,
		CompletedAt: a.CompletedAt,
		ExpiredAt:   a.ExpiredAt,
		Version:     a.Version,
		Task:        a.Snapshot.Clone(),
	}
}

func logToResponse(l *domain.ProgressLog) ProgressLogResponse {
	return ProgressLogResponse{
		ID:             l.ID,
		Action:         string(l.Action),
		Delta:          l.Delta,
		Before:         l.Before,
		After:          l.After,
		Context:        l.Context.Clone(),
		IdempotencyKey: l.IdempotencyKey,
		CreatedAt:      l.CreatedAt,
	}
}

func mapSlice[S, T any](in []S, f func(S) T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
