package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell/inkwell/internal/scheduler"
)

// TaskHandler exposes the recurring task runner for operators.
type TaskHandler struct {
	runner *scheduler.Runner
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(runner *scheduler.Runner, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		runner: runner,
		logger: logger,
	}
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": h.runner.Snapshot(),
	})
}

// Get handles GET /api/v1/tasks/{name}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, err := h.runner.Status(name)
	if err != nil {
		h.handleRunnerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// Trigger handles POST /api/v1/tasks/{name}/run. The run happens
// asynchronously; 202 means the request was queued.
func (h *TaskHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.runner.Trigger(name); err != nil {
		h.handleRunnerError(w, err)
		return
	}

	h.logger.Info("task_triggered", "task", name)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task":   name,
		"status": "triggered",
	})
}

// Cancel handles POST /api/v1/tasks/{name}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.runner.Cancel(name); err != nil {
		h.handleRunnerError(w, err)
		return
	}

	h.logger.Info("task_cancelled", "task", name)

	writeJSON(w, http.StatusOK, map[string]string{
		"task":   name,
		"status": "cancelled",
	})
}

func (h *TaskHandler) handleRunnerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found")
	case errors.Is(err, scheduler.ErrTaskDone):
		writeError(w, http.StatusConflict, "TASK_DONE", "Task has already stopped")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
