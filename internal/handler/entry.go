package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell/inkwell/internal/handler/dto"
	"github.com/inkwell/inkwell/internal/service"
)

// EntryHandler handles HTTP requests for entry operations.
type EntryHandler struct {
	svc    *service.EntryService
	logger *slog.Logger
}

// NewEntryHandler creates a new EntryHandler.
func NewEntryHandler(svc *service.EntryService, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /api/v1/entries.
func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.CreateEntryInput{
		TypeKey: req.Type,
		Slug:    req.Slug,
		Title:   req.Title,
		Fields:  req.Fields,
		Status:  req.Status,
	}

	entry, err := h.svc.CreateEntry(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("entry_created",
		"entry_id", entry.ID,
		"type", entry.TypeKey,
		"slug", entry.Slug,
	)

	writeJSON(w, http.StatusCreated, dto.ToEntryResponse(entry))
}

// Get handles GET /api/v1/entries/{id}.
func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Entry ID is required")
		return
	}

	entry, err := h.svc.GetEntry(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToEntryResponse(entry))
}

// List handles GET /api/v1/entries.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	input := service.ListEntriesInput{
		TypeKey: query.Get("type"),
		Status:  query.Get("status"),
		Cursor:  query.Get("cursor"),
		Limit:   limit,
	}

	if after := query.Get("created_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			input.CreatedAfter = &t
		}
	}
	if before := query.Get("created_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			input.CreatedBefore = &t
		}
	}

	result, err := h.svc.ListEntries(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToEntryListResponse(result.Entries, result.NextCursor, result.HasMore))
}

// Update handles PATCH /api/v1/entries/{id}.
func (h *EntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Entry ID is required")
		return
	}

	var req dto.UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.UpdateEntryInput{
		ID:     id,
		Slug:   req.Slug,
		Title:  req.Title,
		Fields: req.Fields,
		Status: req.Status,
	}

	entry, err := h.svc.UpdateEntry(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("entry_updated",
		"entry_id", entry.ID,
		"type", entry.TypeKey,
	)

	writeJSON(w, http.StatusOK, dto.ToEntryResponse(entry))
}

// Delete handles DELETE /api/v1/entries/{id}. Entries are trashed, not
// hard-deleted; the purge task removes them after retention.
func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Entry ID is required")
		return
	}

	if err := h.svc.TrashEntry(r.Context(), id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("entry_trashed", "entry_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// handleServiceError maps service errors to HTTP responses.
func (h *EntryHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "ENTRY_NOT_FOUND", "Entry not found")
	case errors.Is(err, service.ErrEntryTrashed):
		writeError(w, http.StatusConflict, "ENTRY_TRASHED", "Entry is trashed")
	case errors.Is(err, service.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "UNKNOWN_TYPE", "Unknown content type")
	case errors.Is(err, service.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, "INVALID_TITLE", "Title is required and must be at most 200 characters")
	case errors.Is(err, service.ErrInvalidSlug):
		writeError(w, http.StatusBadRequest, "INVALID_SLUG", "Invalid slug format")
	case errors.Is(err, service.ErrSlugReserved):
		writeError(w, http.StatusBadRequest, "SLUG_RESERVED", "Slug is reserved")
	case errors.Is(err, service.ErrSlugTaken):
		writeError(w, http.StatusConflict, "SLUG_TAKEN", "Slug already exists for this content type")
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Status must be draft or published")
	case errors.Is(err, service.ErrInvalidFields):
		writeError(w, http.StatusBadRequest, "INVALID_FIELDS", err.Error())
	case errors.Is(err, service.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "Invalid pagination cursor")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
