package progress

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrentProgress_NoLostUpdates(t *testing.T) {
	f := newFixture(t, withConfig(Config{MaxRetries: 50}))
	task := f.seed(t, "grind", autoClaim, target(100))
	userID := uuid.New()

	const reporters = 12
	g, ctx := errgroup.WithContext(context.Background())
	for range reporters {
		g.Go(func() error {
			_, err := f.engine.ReportProgress(ctx, ProgressReport{TaskID: task.ID, UserID: userID, Delta: 1})
			return err
		})
	}
	require.NoError(t, g.Wait())

	page, err := f.engine.GetMyTasks(context.Background(), AssignmentFilter{}, userID)
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "concurrent first reports share one assignment")

	a := page.Items[0]
	assert.Equal(t, reporters, a.Progress)
	assert.Equal(t, reporters+1, a.Version)
	assert.Len(t, f.logs(t, a.ID), reporters+1)
}

func TestConcurrentProgress_SingleCompletionEvent(t *testing.T) {
	f := newFixture(t, withConfig(Config{MaxRetries: 50}))
	task := f.seed(t, "sprint", autoClaim, target(5))
	userID := uuid.New()

	g, ctx := errgroup.WithContext(context.Background())
	for i := range 10 {
		g.Go(func() error {
			_, err := f.engine.ReportProgress(ctx, ProgressReport{
				TaskID:         task.ID,
				UserID:         userID,
				Delta:          1,
				IdempotencyKey: fmt.Sprintf("evt-%d", i),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	emitted := f.emitter.Events()
	require.Len(t, emitted, 1)

	a, err := f.assignments.GetByID(context.Background(), emitted[0].Context.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusCompleted, a.Status)
	assert.Equal(t, 5, a.Progress)

	var completes int
	for _, entry := range f.logs(t, a.ID) {
		if entry.Action == domain.LogActionComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}

func TestConcurrentClaims_OneAssignment(t *testing.T) {
	f := newFixture(t)
	task := f.seed(t, "claim-race")
	userID := uuid.New()

	ids := make([]uuid.UUID, 8)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range ids {
		g.Go(func() error {
			a, err := f.engine.ClaimTask(ctx, task.ID, userID)
			if err != nil {
				return err
			}
			ids[i] = a.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.logs(t, ids[0]), 1, "only the winning claim is logged")
}
