package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType classifies a task definition for listing and filtering.
type TaskType string

// Possible task type values
const (
	TaskTypeNewbie    TaskType = "newbie"
	TaskTypeDaily     TaskType = "daily"
	TaskTypeRepeat    TaskType = "repeat"
	TaskTypeActivity  TaskType = "activity"
	TaskTypeOperation TaskType = "operation"
)

// TaskStatus is the authoring lifecycle state of a task definition.
type TaskStatus string

// Possible task status values
const (
	TaskStatusDraft     TaskStatus = "draft"
	TaskStatusPublished TaskStatus = "published"
	TaskStatusOffline   TaskStatus = "offline"
)

// Mode controls whether claiming or completing happens implicitly (auto)
// or requires an explicit user call (manual).
type Mode string

// Possible mode values
const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// RepeatRule determines the period an assignment belongs to.
type RepeatRule string

// Possible repeat rule values
const (
	RepeatOnce    RepeatRule = "once"
	RepeatDaily   RepeatRule = "daily"
	RepeatWeekly  RepeatRule = "weekly"
	RepeatMonthly RepeatRule = "monthly"
)

// Validation errors for Task
var (
	ErrEmptyTaskID        = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrEmptyTaskCode      = fmt.Errorf("%w: task code cannot be empty", ErrValidation)
	ErrInvalidTaskType    = fmt.Errorf("%w: invalid task type", ErrValidation)
	ErrInvalidTaskStatus  = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidMode        = fmt.Errorf("%w: invalid claim or complete mode", ErrValidation)
	ErrInvalidRepeatRule  = fmt.Errorf("%w: invalid repeat rule", ErrValidation)
	ErrInvalidTargetCount = fmt.Errorf("%w: target count must be positive", ErrValidation)
	ErrInvalidWindow      = fmt.Errorf("%w: publish window ends before it starts", ErrValidation)
)

// Task is a published objective definition. The engine only reads tasks;
// they are owned by the authoring system.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	Title          string     `json:"title"`
	Type           TaskType   `json:"type"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
	IsEnabled      bool       `json:"is_enabled"`
	ClaimMode      Mode       `json:"claim_mode"`
	CompleteMode   Mode       `json:"complete_mode"`
	TargetCount    int        `json:"target_count"`
	RewardConfig   Payload    `json:"reward_config"`
	PublishStartAt *time.Time `json:"publish_start_at,omitempty"`
	PublishEndAt   *time.Time `json:"publish_end_at,omitempty"`
	RepeatRule     RepeatRule `json:"repeat_rule"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks that the task definition is internally consistent.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Code == "" {
		return ErrEmptyTaskCode
	}
	if !IsValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}
	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}
	if !isValidMode(t.ClaimMode) || !isValidMode(t.CompleteMode) {
		return ErrInvalidMode
	}
	if !IsValidRepeatRule(t.RepeatRule) {
		return ErrInvalidRepeatRule
	}
	if t.TargetCount <= 0 {
		return ErrInvalidTargetCount
	}
	if t.PublishStartAt != nil && t.PublishEndAt != nil && t.PublishEndAt.Before(*t.PublishStartAt) {
		return ErrInvalidWindow
	}
	return nil
}

// IsActive reports whether the task is published and enabled.
func (t *Task) IsActive() bool {
	return t.IsEnabled && t.Status == TaskStatusPublished
}

// InPublishWindow reports whether now falls inside the publish window.
// Missing bounds are open.
func (t *Task) InPublishWindow(now time.Time) bool {
	if t.PublishStartAt != nil && now.Before(*t.PublishStartAt) {
		return false
	}
	if t.PublishEndAt != nil && now.After(*t.PublishEndAt) {
		return false
	}
	return true
}

// IsAutoClaim reports whether assignments are materialized without a claim call.
func (t *Task) IsAutoClaim() bool {
	return t.ClaimMode == ModeAuto
}

// Snapshot captures the task metadata an assignment keeps for historical
// stability after the definition changes.
func (t *Task) Snapshot() Payload {
	snap := Payload{
		"id":            t.ID.String(),
		"code":          t.Code,
		"title":         t.Title,
		"type":          string(t.Type),
		"priority":      t.Priority,
		"claim_mode":    string(t.ClaimMode),
		"complete_mode": string(t.CompleteMode),
		"target_count":  t.TargetCount,
		"repeat_rule":   string(t.RepeatRule),
		"reward_config": map[string]any(t.RewardConfig.Clone()),
	}
	if t.PublishStartAt != nil {
		snap["publish_start_at"] = t.PublishStartAt.UTC().Format(time.RFC3339)
	}
	if t.PublishEndAt != nil {
		snap["publish_end_at"] = t.PublishEndAt.UTC().Format(time.RFC3339)
	}
	return snap
}

// IsValidTaskType checks if the given type is a known TaskType.
func IsValidTaskType(tt TaskType) bool {
	switch tt {
	case TaskTypeNewbie, TaskTypeDaily, TaskTypeRepeat, TaskTypeActivity, TaskTypeOperation:
		return true
	default:
		return false
	}
}

// IsValidRepeatRule checks if the given rule is a known RepeatRule.
func IsValidRepeatRule(r RepeatRule) bool {
	switch r {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	default:
		return false
	}
}

func isValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusDraft, TaskStatusPublished, TaskStatusOffline:
		return true
	default:
		return false
	}
}

func isValidMode(m Mode) bool {
	return m == ModeAuto || m == ModeManual
}

