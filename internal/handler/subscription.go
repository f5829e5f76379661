package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/inkwell/inkwell/internal/handler/dto"
	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/notify"
)

// SubscriptionHandler manages webhook subscriptions and deliveries.
type SubscriptionHandler struct {
	repo          *notify.Repository
	logger        *slog.Logger
	allowInsecure bool
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
// allowInsecure permits plain-HTTP targets for local development.
func NewSubscriptionHandler(repo *notify.Repository, logger *slog.Logger, allowInsecure bool) *SubscriptionHandler {
	return &SubscriptionHandler{
		repo:          repo,
		logger:        logger.With("handler", "subscription"),
		allowInsecure: allowInsecure,
	}
}

// Create handles POST /api/v1/webhooks. The signing secret appears
// in this response only.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NAME", "Subscription name is required")
		return
	}

	if err := h.validateTarget(req.TargetURL); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_URL", err.Error())
		return
	}

	if !h.validEventTypes(w, req.EventTypes) {
		return
	}

	secret, err := notify.GenerateSecret()
	if err != nil {
		h.logger.Error("failed to generate secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create subscription")
		return
	}

	now := time.Now().UTC()
	sub := &model.Subscription{
		ID:         ulid.Make().String(),
		Name:       req.Name,
		TargetURL:  req.TargetURL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.repo.CreateSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to create subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create subscription")
		return
	}

	h.logger.Info("subscription_created",
		"subscription_id", sub.ID,
		"target_host", notify.ExtractHost(sub.TargetURL),
	)

	writeJSON(w, http.StatusCreated, dto.SubscriptionCreateResponse{
		SubscriptionResponse: dto.ToSubscriptionResponse(sub),
		Secret:               secret,
	})
}

// List handles GET /api/v1/webhooks.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.repo.ListSubscriptions(r.Context())
	if err != nil {
		h.logger.Error("failed to list subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list subscriptions")
		return
	}

	data := make([]dto.SubscriptionResponse, len(subs))
	for i, sub := range subs {
		data[i] = dto.ToSubscriptionResponse(sub)
	}

	writeJSON(w, http.StatusOK, dto.SubscriptionListResponse{Data: data})
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubscription(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, dto.ToSubscriptionResponse(sub))
}

// Update handles PATCH /api/v1/webhooks/{id}.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubscription(w, r)
	if !ok {
		return
	}

	var req dto.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			writeError(w, http.StatusBadRequest, "MISSING_NAME", "Subscription name is required")
			return
		}
		sub.Name = *req.Name
	}
	if req.TargetURL != nil {
		if err := h.validateTarget(*req.TargetURL); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_URL", err.Error())
			return
		}
		sub.TargetURL = *req.TargetURL
	}
	if req.EventTypes != nil {
		if !h.validEventTypes(w, *req.EventTypes) {
			return
		}
		sub.EventTypes = *req.EventTypes
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := h.repo.UpdateSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to update subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update subscription")
		return
	}

	h.logger.Info("subscription_updated", "subscription_id", sub.ID)

	writeJSON(w, http.StatusOK, dto.ToSubscriptionResponse(sub))
}

// RotateSecret handles POST /api/v1/webhooks/{id}/rotate-secret.
// The new secret appears in this response only.
func (h *SubscriptionHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubscription(w, r)
	if !ok {
		return
	}

	secret, err := notify.GenerateSecret()
	if err != nil {
		h.logger.Error("failed to generate secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rotate secret")
		return
	}

	if err := h.repo.RotateSubscriptionSecret(r.Context(), sub.ID, secret); err != nil {
		h.logger.Error("failed to rotate secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rotate secret")
		return
	}

	h.logger.Info("subscription_secret_rotated", "subscription_id", sub.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     sub.ID,
		"secret": secret,
	})
}

// Delete handles DELETE /api/v1/webhooks/{id}.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubscription(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteSubscription(r.Context(), sub.ID); err != nil {
		h.logger.Error("failed to delete subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete subscription")
		return
	}

	h.logger.Info("subscription_deleted", "subscription_id", sub.ID)

	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries.
func (h *SubscriptionHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubscription(w, r)
	if !ok {
		return
	}

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

	var statuses []string
	if s := query.Get("status"); s != "" {
		statuses = strings.Split(s, ",")
	}

	deliveries, total, err := h.repo.ListDeliveriesBySubscription(r.Context(), sub.ID, statuses, limit, offset)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list deliveries")
		return
	}

	writeJSON(w, http.StatusOK, dto.DeliveryListResponse{
		Data:  deliveries,
		Total: int64(total),
	})
}

// RetryDelivery handles POST /api/v1/deliveries/{id}/retry, putting an
// exhausted delivery back in the queue.
func (h *SubscriptionHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.ResetDeliveryForRetry(r.Context(), id); err != nil {
		if errors.Is(err, notify.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "DELIVERY_NOT_FOUND", "Delivery not found or not exhausted")
			return
		}
		h.logger.Error("failed to retry delivery", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to retry delivery")
		return
	}

	h.logger.Info("delivery_retry_requested", "delivery_id", id)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "pending",
	})
}

// loadSubscription resolves {id} and writes the 404 itself on a miss.
func (h *SubscriptionHandler) loadSubscription(w http.ResponseWriter, r *http.Request) (*model.Subscription, bool) {
	id := chi.URLParam(r, "id")

	sub, err := h.repo.GetSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, notify.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "Subscription not found")
			return nil, false
		}
		h.logger.Error("failed to get subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get subscription")
		return nil, false
	}

	return sub, true
}

func (h *SubscriptionHandler) validateTarget(targetURL string) error {
	return notify.ValidateTargetURLWithOptions(targetURL, notify.ValidationOptions{
		AllowInsecure: h.allowInsecure,
	})
}

func (h *SubscriptionHandler) validEventTypes(w http.ResponseWriter, eventTypes []model.EventType) bool {
	for _, et := range eventTypes {
		if !et.IsValid() {
			writeError(w, http.StatusBadRequest, "INVALID_EVENT_TYPE", "Invalid event type: "+string(et))
			return false
		}
	}
	return true
}
