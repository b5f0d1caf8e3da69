package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func testAssignment(t *testing.T) *domain.Assignment {
	t.Helper()
	task := &domain.Task{
		ID:           uuid.New(),
		Code:         "daily-login",
		Type:         domain.TaskTypeDaily,
		Status:       domain.TaskStatusPublished,
		IsEnabled:    true,
		ClaimMode:    domain.ModeAuto,
		CompleteMode: domain.ModeAuto,
		TargetCount:  3,
		RepeatRule:   domain.RepeatDaily,
	}
	a, err := domain.NewAssignment(task, uuid.New(), "2025-03-10", mockNow)
	require.NoError(t, err)
	return a
}

func assignmentRows(a *domain.Assignment) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "task_id", "user_id", "cycle_key", "status", "progress", "target", "claimed_at",
		"completed_at", "expired_at", "snapshot", "version", "context", "created_at", "updated_at",
	}).AddRow(
		a.ID.String(), a.TaskID.String(), a.UserID.String(), a.CycleKey, string(a.Status),
		a.Progress, a.Target, a.ClaimedAt, nil, nil, []byte(`{"code":"daily-login"}`),
		a.Version, []byte(`{}`), a.CreatedAt, a.UpdatedAt,
	)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique", &pgconn.PgError{Code: uniqueViolationCode}, store.ErrDuplicate},
		{"idempotency", &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: idempotencyIndex}, store.ErrDuplicateProgressEvent},
		{"foreign key", &pgconn.PgError{Code: foreignKeyViolationCode}, store.ErrInvalidEntity},
		{"check", &pgconn.PgError{Code: checkViolationCode}, store.ErrInvalidEntity},
		{"not null", &pgconn.PgError{Code: notNullViolationCode}, store.ErrInvalidEntity},
		{"wrapped unique", fmt.Errorf("exec: %w", &pgconn.PgError{Code: uniqueViolationCode}), store.ErrDuplicate},
		{
			"wrapped idempotency",
			fmt.Errorf("insert log: %w", &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: idempotencyIndex}),
			store.ErrDuplicateProgressEvent,
		},
		{"wrapped foreign key", fmt.Errorf("exec: %w", &pgconn.PgError{Code: foreignKeyViolationCode}), store.ErrInvalidEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			assert.ErrorIs(t, mapped, tt.want)
			assert.ErrorIs(t, mapped, tt.err, "original error stays in the chain")
		})
	}

	assert.NoError(t, MapError(nil))
	other := errors.New("boom")
	assert.Same(t, other, MapError(other))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: checkViolationCode}))
}

func TestTaskStore_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	ts := NewPostgresTaskStore(db, nil)

	mock.ExpectQuery("SELECT .* FROM tasks WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := ts.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestNewStoresPanicOnNilDB(t *testing.T) {
	assert.Panics(t, func() { NewPostgresTaskStore(nil, nil) })
	assert.Panics(t, func() { NewPostgresAssignmentStore(nil, nil) })
}

func TestAssignmentStore_UpdateWithVersion(t *testing.T) {
	a := testAssignment(t)
	next, err := a.Advance(1, mockNow)
	require.NoError(t, err)
	entry := domain.NewTransitionLog(a, next, 1, nil, mockNow)

	t.Run("success", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE task_assignments").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
		mock.ExpectExec("INSERT INTO task_progress_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		updated, err := as.UpdateWithVersion(context.Background(), next, a.Version, entry)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 1, updated.Progress)
	})

	t.Run("version conflict", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE task_assignments").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := as.UpdateWithVersion(context.Background(), next, a.Version, entry)
		assert.ErrorIs(t, err, store.ErrVersionConflict)
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE task_assignments").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := as.UpdateWithVersion(context.Background(), next, a.Version, entry)
		assert.ErrorIs(t, err, store.ErrAssignmentNotFound)
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE task_assignments").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
		mock.ExpectExec("INSERT INTO task_progress_logs").
			WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: idempotencyIndex})
		mock.ExpectRollback()

		_, err := as.UpdateWithVersion(context.Background(), next, a.Version, entry)
		assert.ErrorIs(t, err, store.ErrDuplicateProgressEvent)
	})

	t.Run("invalid entity is rejected before the database", func(t *testing.T) {
		db, _ := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)

		bad := *next
		bad.Progress = bad.Target + 1
		_, err := as.UpdateWithVersion(context.Background(), &bad, a.Version, entry)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestAssignmentStore_CreateIfAbsent(t *testing.T) {
	t.Run("inserted", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)
		a := testAssignment(t)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO task_assignments .* ON CONFLICT").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.ID.String()))
		mock.ExpectExec("INSERT INTO task_progress_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, created, err := as.CreateIfAbsent(context.Background(), a, domain.NewClaimLog(a, mockNow))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, a.ID, got.ID)
	})

	t.Run("existing row wins", func(t *testing.T) {
		db, mock := newMock(t)
		as := NewPostgresAssignmentStore(db, nil)
		existing := testAssignment(t)
		candidate := *existing
		candidate.ID = uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO task_assignments .* ON CONFLICT").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT .* FROM task_assignments").
			WillReturnRows(assignmentRows(existing))
		mock.ExpectCommit()

		got, created, err := as.CreateIfAbsent(context.Background(), &candidate, domain.NewClaimLog(&candidate, mockNow))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, got.ID)
		assert.Equal(t, "daily-login", got.Snapshot["code"])
	})
}

func TestAssignmentStore_BulkExpire(t *testing.T) {
	db, mock := newMock(t)
	as := NewPostgresAssignmentStore(db, nil)

	mock.ExpectQuery("WITH expired AS").
		WithArgs(mockNow).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := as.BulkExpire(context.Background(), mockNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestAssignmentStore_FindLogByIdempotencyKeyNotFound(t *testing.T) {
	db, mock := newMock(t)
	as := NewPostgresAssignmentStore(db, nil)

	mock.ExpectQuery("SELECT .* FROM task_progress_logs").WillReturnError(sql.ErrNoRows)

	_, err := as.FindLogByIdempotencyKey(context.Background(), uuid.New(), "evt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssignmentStore_BulkExpireFailure(t *testing.T) {
	db, mock := newMock(t)
	as := NewPostgresAssignmentStore(db, nil)

	mock.ExpectQuery("WITH expired AS").WillReturnError(errors.New("connection reset"))

	_, err := as.BulkExpire(context.Background(), mockNow)
	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "bulk_expire", storeErr.Operation)
}
