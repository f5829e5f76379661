package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/inkwell/inkwell/internal/handler/dto"
	"github.com/inkwell/inkwell/internal/notify"
)

// NotificationHandler exposes the notification outbox for operators.
type NotificationHandler struct {
	repo   *notify.Repository
	logger *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(repo *notify.Repository, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		repo:   repo,
		logger: logger,
	}
}

// List handles GET /api/v1/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 50
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	notifications, err := h.repo.ListNotifications(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list notifications")
		return
	}

	writeJSON(w, http.StatusOK, dto.NotificationListResponse{Data: notifications})
}
