package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/service/progress"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock of progress.Engine for use with testify/mock
type MockEngine struct {
	mock.Mock
}

var _ progress.Engine = (*MockEngine)(nil)

// GetAvailableTasks is a mock implementation of progress.Engine.GetAvailableTasks
func (m *MockEngine) GetAvailableTasks(
	ctx context.Context,
	filter progress.TaskFilter,
	userID uuid.UUID,
) (*progress.TaskPage, error) {
	args := m.Called(ctx, filter, userID)
	if page, ok := args.Get(0).(*progress.TaskPage); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}

// GetMyTasks is a mock implementation of progress.Engine.GetMyTasks
func (m *MockEngine) GetMyTasks(
	ctx context.Context,
	filter progress.AssignmentFilter,
	userID uuid.UUID,
) (*progress.AssignmentPage, error) {
	args := m.Called(ctx, filter, userID)
	if page, ok := args.Get(0).(*progress.AssignmentPage); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}

// ClaimTask is a mock implementation of progress.Engine.ClaimTask
func (m *MockEngine) ClaimTask(ctx context.Context, taskID, userID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, taskID, userID)
	return assignmentArg(args)
}

// ReportProgress is a mock implementation of progress.Engine.ReportProgress
func (m *MockEngine) ReportProgress(ctx context.Context, report progress.ProgressReport) (*domain.Assignment, error) {
	args := m.Called(ctx, report)
	return assignmentArg(args)
}

// CompleteTask is a mock implementation of progress.Engine.CompleteTask
func (m *MockEngine) CompleteTask(ctx context.Context, taskID, userID uuid.UUID) (*domain.Assignment, error) {
	args := m.Called(ctx, taskID, userID)
	return assignmentArg(args)
}

// ExpireAssignments is a mock implementation of progress.Engine.ExpireAssignments
func (m *MockEngine) ExpireAssignments(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// EnsureAssignment is a mock implementation of progress.Engine.EnsureAssignment
func (m *MockEngine) EnsureAssignment(
	ctx context.Context,
	task *domain.Task,
	userID uuid.UUID,
	now time.Time,
) (*domain.Assignment, bool, error) {
	args := m.Called(ctx, task, userID, now)
	a, _ := args.Get(0).(*domain.Assignment)
	return a, args.Bool(1), args.Error(2)
}

// GetAssignmentHistory is a mock implementation of progress.Engine.GetAssignmentHistory
func (m *MockEngine) GetAssignmentHistory(
	ctx context.Context,
	assignmentID, userID uuid.UUID,
) ([]*domain.ProgressLog, error) {
	args := m.Called(ctx, assignmentID, userID)
	if logs, ok := args.Get(0).([]*domain.ProgressLog); ok {
		return logs, args.Error(1)
	}
	return nil, args.Error(1)
}

func assignmentArg(args mock.Arguments) (*domain.Assignment, error) {
	if a, ok := args.Get(0).(*domain.Assignment); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}
