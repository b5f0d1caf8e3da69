package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/scry-quests/internal/api/shared"
	"github.com/phrazzld/scry-quests/internal/domain"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
	"github.com/phrazzld/scry-quests/internal/service/progress"
)

// TaskHandler serves the task and assignment endpoints.
type TaskHandler struct {
	engine progress.Engine
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler. If logger is nil, a default
// logger will be used.
func NewTaskHandler(engine progress.Engine, logger *slog.Logger) *TaskHandler {
	if engine == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("engine cannot be nil for TaskHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		engine: engine,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// RegisterRoutes mounts the handler on r. Callers apply authentication.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tasks/available", h.GetAvailableTasks)
	r.Get("/tasks/mine", h.GetMyTasks)
	r.Post("/tasks/{id}/claim", h.ClaimTask)
	r.Post("/tasks/{id}/progress", h.ReportProgress)
	r.Post("/tasks/{id}/complete", h.CompleteTask)
	r.Get("/assignments/{id}/logs", h.GetAssignmentLogs)
}

// GetAvailableTasks handles GET /tasks/available?type=&page=&page_size=
func (h *TaskHandler) GetAvailableTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("user ID not found or invalid in request context")
		HandleAPIError(w, r, ErrUnauthorized, "")
		return
	}

	page, pageSize, err := pagingParams(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	result, err := h.engine.GetAvailableTasks(r.Context(), progress.TaskFilter{
		Type:     domain.TaskType(r.URL.Query().Get("type")),
		Page:     page,
		PageSize: pageSize,
	}, userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list available tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, PageResponse[TaskResponse]{
		Items:    mapSlice(result.Items, taskToResponse),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// GetMyTasks handles GET /tasks/mine?status=&type=&page=&page_size=
func (h *TaskHandler) GetMyTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("user ID not found or invalid in request context")
		HandleAPIError(w, r, ErrUnauthorized, "")
		return
	}

	page, pageSize, err := pagingParams(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	q := r.URL.Query()
	result, err := h.engine.GetMyTasks(r.Context(), progress.AssignmentFilter{
		Status:   domain.AssignmentStatus(q.Get("status")),
		Type:     domain.TaskType(q.Get("type")),
		Page:     page,
		PageSize: pageSize,
	}, userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list assignments")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, PageResponse[AssignmentResponse]{
		Items:    mapSlice(result.Items, assignmentToResponse),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// ClaimTask handles POST /tasks/{id}/claim
func (h *TaskHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	a, err := h.engine.ClaimTask(r.Context(), taskID, userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to claim task")
		return
	}

	log.Debug("task claimed",
		slog.String("task_id", taskID.String()),
		slog.String("assignment_id", a.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, assignmentToResponse(a))
}

// ReportProgress handles POST /tasks/{id}/progress
func (h *TaskHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	var req ReportProgressRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	a, err := h.engine.ReportProgress(r.Context(), progress.ProgressReport{
		TaskID:         taskID,
		UserID:         userID,
		Delta:          req.Delta,
		Context:        domain.Payload(req.Context),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to report progress")
		return
	}

	log.Debug("progress reported",
		slog.String("task_id", taskID.String()),
		slog.Int("delta", req.Delta),
		slog.Int("progress", a.Progress),
		slog.String("status", string(a.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, assignmentToResponse(a))
}

// CompleteTask handles POST /tasks/{id}/complete
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	a, err := h.engine.CompleteTask(r.Context(), taskID, userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to complete task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, assignmentToResponse(a))
}

// GetAssignmentLogs handles GET /assignments/{id}/logs
func (h *TaskHandler) GetAssignmentLogs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, assignmentID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	logs, err := h.engine.GetAssignmentHistory(r.Context(), assignmentID, userID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load assignment history")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, mapSlice(logs, logToResponse))
}
