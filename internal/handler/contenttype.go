package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell/inkwell/internal/schema"
)

// ContentTypeHandler serves the read-only content type presets.
type ContentTypeHandler struct {
	registry *schema.Registry
}

// NewContentTypeHandler creates a new ContentTypeHandler.
func NewContentTypeHandler(registry *schema.Registry) *ContentTypeHandler {
	return &ContentTypeHandler{registry: registry}
}

// List handles GET /api/v1/content-types.
func (h *ContentTypeHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      h.registry.List(),
		"loaded_at": h.registry.LoadedAt(),
	})
}

// Get handles GET /api/v1/content-types/{key}.
func (h *ContentTypeHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	ct, ok := h.registry.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "TYPE_NOT_FOUND", "Unknown content type")
		return
	}

	writeJSON(w, http.StatusOK, ct)
}
