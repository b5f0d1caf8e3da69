package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
)

// TaskQuery narrows a task listing. Zero values mean "no filter".
type TaskQuery struct {
	Type   domain.TaskType
	Limit  int
	Offset int
}

// TaskStore is read access to task definitions. The definitions themselves
// are owned by the authoring system; the engine never writes them.
type TaskStore interface {
	// GetByID retrieves a task by its unique ID regardless of its status.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListAvailable returns published, enabled tasks whose publish window
	// contains now, ordered by priority (highest first) then creation time.
	// The second result is the total number of matches ignoring Limit and Offset.
	ListAvailable(ctx context.Context, q TaskQuery, now time.Time) ([]*domain.Task, int, error)

	// ListEligibleAutoTasks returns every available task with auto claim mode.
	ListEligibleAutoTasks(ctx context.Context, now time.Time) ([]*domain.Task, error)
}
