package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

// seedNamespace derives stable task IDs from codes so reseeding updates
// rows in place.
var seedNamespace = uuid.MustParse("6f1d8a52-3c1e-4b8e-9a57-0d2f3f6b7c41")

func seedTask(code, title string, typ domain.TaskType, repeat domain.RepeatRule, target, priority int) *domain.Task {
	return &domain.Task{
		ID:           uuid.NewSHA1(seedNamespace, []byte(code)),
		Code:         code,
		Title:        title,
		Type:         typ,
		Status:       domain.TaskStatusPublished,
		Priority:     priority,
		IsEnabled:    true,
		ClaimMode:    domain.ModeAuto,
		CompleteMode: domain.ModeAuto,
		TargetCount:  target,
		RepeatRule:   repeat,
	}
}

// sampleTasks is a small catalogue for local development.
func sampleTasks() []*domain.Task {
	login := seedTask("daily-login", "Log in today", domain.TaskTypeDaily, domain.RepeatDaily, 1, 100)
	login.RewardConfig = domain.Payload{"coins": float64(10)}

	review := seedTask("daily-review-20", "Review 20 cards", domain.TaskTypeDaily, domain.RepeatDaily, 20, 90)
	review.RewardConfig = domain.Payload{"coins": float64(30), "xp": float64(50)}

	weekly := seedTask("weekly-streak", "Study on five days this week", domain.TaskTypeRepeat, domain.RepeatWeekly, 5, 80)
	weekly.ClaimMode = domain.ModeManual
	weekly.RewardConfig = domain.Payload{"badge": "steady-learner"}

	first := seedTask("newbie-first-deck", "Create your first deck", domain.TaskTypeNewbie, domain.RepeatOnce, 1, 200)
	first.RewardConfig = domain.Payload{"coins": float64(100)}

	survey := seedTask("monthly-feedback", "Share feedback", domain.TaskTypeActivity, domain.RepeatMonthly, 1, 10)
	survey.ClaimMode = domain.ModeManual
	survey.CompleteMode = domain.ModeManual
	survey.RewardConfig = domain.Payload{"coins": float64(20)}

	return []*domain.Task{login, review, weekly, first, survey}
}

// seedTasks upserts tasks and reports how many were written.
func seedTasks(ctx context.Context, catalog taskCatalog, tasks []*domain.Task, logger *slog.Logger) (int, error) {
	now := time.Now().UTC()
	for i, task := range tasks {
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.UpdatedAt = now

		if err := catalog.Upsert(ctx, task); err != nil {
			return i, fmt.Errorf("failed to seed task %s: %w", task.Code, err)
		}
		logger.Debug("seeded task", slog.String("task_code", task.Code))
	}
	return len(tasks), nil
}
