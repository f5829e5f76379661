package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/inkwell/inkwell/internal/search"
)

// maxSearchQueryLength bounds user-supplied query strings.
const maxSearchQueryLength = 200

// SearchHandler serves full-text search and index operations.
type SearchHandler struct {
	svc    *search.Service
	logger *slog.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(svc *search.Service, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		svc:    svc,
		logger: logger,
	}
}

// Search handles GET /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "Query parameter q is required")
		return
	}
	if len(query) > maxSearchQueryLength {
		writeError(w, http.StatusBadRequest, "QUERY_TOO_LONG", "Query exceeds maximum length")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	results, err := h.svc.Search(r.Context(), query, r.URL.Query().Get("type"), limit)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Search failed")
		return
	}

	if results == nil {
		results = []*search.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  results,
		"query": query,
	})
}

// IndexStatus handles GET /api/v1/index.
func (h *SearchHandler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		h.logger.Error("index status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read index status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// RebuildIndex handles POST /api/v1/index/rebuild.
func (h *SearchHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	enqueued, err := h.svc.Rebuild(r.Context())
	if err != nil {
		if errors.Is(err, search.ErrRebuildInProgress) {
			writeError(w, http.StatusConflict, "REBUILD_IN_PROGRESS", "An index rebuild is already running")
			return
		}
		h.logger.Error("index rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start rebuild")
		return
	}

	h.logger.Info("index_rebuild_started", "entries_enqueued", enqueued)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "rebuilding",
		"entries_enqueued": enqueued,
	})
}
