package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-quests/internal/api/shared"
	"github.com/phrazzld/scry-quests/internal/service/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetPathUUID(t *testing.T) {
	id := uuid.New()

	got, err := getPathUUID(withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String()), "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = getPathUUID(withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "not-a-uuid"), "id")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, err, progress.ErrValidation)

	_, err = getPathUUID(httptest.NewRequest(http.MethodGet, "/", nil), "id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestHandleUserIDAndPathUUID(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()

	t.Run("success", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", taskID.String())
		req = req.WithContext(shared.WithUserID(req.Context(), userID))
		w := httptest.NewRecorder()

		gotUser, gotTask, ok := handleUserIDAndPathUUID(w, req, "id", nil)
		assert.True(t, ok)
		assert.Equal(t, userID, gotUser)
		assert.Equal(t, taskID, gotTask)
	})

	t.Run("no user", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", taskID.String())
		w := httptest.NewRecorder()

		_, _, ok := handleUserIDAndPathUUID(w, req, "id", nil)
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", "42")
		req = req.WithContext(shared.WithUserID(req.Context(), userID))
		w := httptest.NewRecorder()

		_, _, ok := handleUserIDAndPathUUID(w, req, "id", nil)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPagingParams(t *testing.T) {
	page, size, err := pagingParams(httptest.NewRequest(http.MethodGet, "/?page=2&page_size=5", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, page)
	assert.Equal(t, 5, size)

	page, size, err = pagingParams(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Zero(t, page)
	assert.Zero(t, size)

	_, _, err = pagingParams(httptest.NewRequest(http.MethodGet, "/?page=two", nil))
	assert.ErrorIs(t, err, progress.ErrInvalidFilter)

	_, _, err = pagingParams(httptest.NewRequest(http.MethodGet, "/?page_size=1.5", nil))
	assert.ErrorIs(t, err, progress.ErrInvalidFilter)
}
