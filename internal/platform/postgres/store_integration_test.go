//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/platform/postgres"
	"github.com/phrazzld/scry-quests/internal/store"
	"github.com/phrazzld/scry-quests/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, db store.DBTX, end *time.Time) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:           uuid.New(),
		Code:         "task-" + uuid.NewString()[:8],
		Title:        "Read three cards",
		Type:         domain.TaskTypeDaily,
		Status:       domain.TaskStatusPublished,
		IsEnabled:    true,
		ClaimMode:    domain.ModeManual,
		CompleteMode: domain.ModeAuto,
		TargetCount:  3,
		RewardConfig: domain.Payload{"xp": float64(5)},
		PublishEndAt: end,
		RepeatRule:   domain.RepeatDaily,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, postgres.NewPostgresTaskStore(db, nil).Upsert(context.Background(), task))
	return task
}

func TestPostgresStores_Transactional(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		ts := postgres.NewPostgresTaskStore(tx, nil)
		as := postgres.NewPostgresAssignmentStore(tx, nil)

		end := now.Add(time.Hour)
		task := seedTask(t, tx, &end)

		tasks, total, err := ts.ListAvailable(ctx, store.TaskQuery{Limit: 50}, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, 1)
		assert.NotEmpty(t, tasks)

		a, err := domain.NewAssignment(task, uuid.New(), "2025-03-10", now)
		require.NoError(t, err)
		_, created, err := as.CreateIfAbsent(ctx, a, domain.NewClaimLog(a, now))
		require.NoError(t, err)
		require.True(t, created)

		next, err := a.Advance(1, now)
		require.NoError(t, err)
		entry := domain.NewTransitionLog(a, next, 1, nil, now)
		entry.IdempotencyKey = "evt-1"
		updated, err := as.UpdateWithVersion(ctx, next, a.Version, entry)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		_, err = as.UpdateWithVersion(ctx, next, a.Version, domain.NewTransitionLog(a, next, 1, nil, now))
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		found, err := as.FindLogByIdempotencyKey(ctx, a.ID, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, entry.ID, found.ID)

		n, err := as.BulkExpire(ctx, end)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		logs, err := as.ListLogs(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, domain.LogActionExpire, logs[2].Action)

		mine, total, err := as.ListByUser(ctx, a.UserID, store.AssignmentQuery{Type: domain.TaskTypeDaily})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, mine, 1)
		assert.Equal(t, domain.AssignmentStatusExpired, mine[0].Status)
	})
}

func TestPostgresStores_ConcurrentCreate(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.ResetTables(t, db)
	t.Cleanup(func() { testdb.ResetTables(t, db) })

	ctx := context.Background()
	as := postgres.NewPostgresAssignmentStore(db, nil)
	task := seedTask(t, db, nil)
	userID := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
		ids     = map[uuid.UUID]struct{}{}
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := domain.NewAssignment(task, userID, "2025-03-10", now)
			if !assert.NoError(t, err) {
				return
			}
			got, created, err := as.CreateIfAbsent(ctx, a, domain.NewClaimLog(a, now))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[got.ID] = struct{}{}
			if created {
				creates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	assert.Len(t, ids, 1)
}
