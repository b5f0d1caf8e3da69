package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/scry-quests/internal/platform/sqlite"
	"github.com/phrazzld/scry-quests/internal/store"
	"github.com/phrazzld/scry-quests/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "quests.yaml", "-migrate", "status"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "quests.yaml", opts.configPath)
	assert.Equal(t, "status", opts.migrate)
	assert.False(t, opts.seed)

	opts, err = parseFlags([]string{"-seed", "-sweep-once"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.seed)
	assert.True(t, opts.sweepOnce)

	_, err = parseFlags([]string{"-migrate", "sideways"}, io.Discard)
	assert.ErrorContains(t, err, "unknown migrate command")

	_, err = parseFlags([]string{"-nope"}, io.Discard)
	assert.Error(t, err)
}

func TestHandleMigrations(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(ctx, t.TempDir()+"/quests.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	b := newSQLiteBackend(db, logger)

	require.NoError(t, handleMigrations(ctx, b, "up", logger))
	latest, err := b.version(ctx, db, logger)
	require.NoError(t, err)
	assert.Positive(t, latest)

	require.NoError(t, handleMigrations(ctx, b, "status", logger))

	require.NoError(t, handleMigrations(ctx, b, "down", logger))
	v, err := b.version(ctx, db, logger)
	require.NoError(t, err)
	assert.Less(t, v, latest)

	assert.Error(t, handleMigrations(ctx, b, "sideways", logger))
}

func TestSeedTasks_Idempotent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := newSQLiteBackend(testdb.NewSQLiteDB(t), logger)

	for range 2 {
		n, err := seedTasks(ctx, b.tasks, sampleTasks(), logger)
		require.NoError(t, err)
		assert.Equal(t, len(sampleTasks()), n)
	}

	tasks, total, err := b.tasks.ListAvailable(ctx, store.TaskQuery{Limit: 50}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, len(sampleTasks()), total)
	assert.Len(t, tasks, total)
}

func TestSampleTasksAreValid(t *testing.T) {
	codes := map[string]bool{}
	for _, task := range sampleTasks() {
		require.NoError(t, task.Validate(), task.Code)
		assert.False(t, codes[task.Code], "duplicate code %s", task.Code)
		codes[task.Code] = true
	}
}
