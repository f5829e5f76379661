// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/inkwell/inkwell/internal/model"
)

// CreateEntryRequest represents the request body for creating an entry.
type CreateEntryRequest struct {
	Type   string         `json:"type"`
	Slug   string         `json:"slug,omitempty"`
	Title  string         `json:"title"`
	Fields map[string]any `json:"fields,omitempty"`
	Status string         `json:"status,omitempty"`
}

// UpdateEntryRequest represents the request body for updating an entry.
type UpdateEntryRequest struct {
	Slug   *string        `json:"slug,omitempty"`
	Title  *string        `json:"title,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Status *string        `json:"status,omitempty"`
}

// EntryResponse represents an entry in API responses.
type EntryResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Slug      string         `json:"slug"`
	Title     string         `json:"title"`
	Fields    map[string]any `json:"fields"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EntryListResponse represents a paginated list of entries.
type EntryListResponse struct {
	Data       []EntryResponse `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToEntryResponse converts an Entry model to EntryResponse DTO.
func ToEntryResponse(entry *model.Entry) *EntryResponse {
	return &EntryResponse{
		ID:        entry.ID,
		Type:      entry.TypeKey,
		Slug:      entry.Slug,
		Title:     entry.Title,
		Fields:    entry.Fields,
		Status:    string(entry.EffectiveStatus()),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}

// ToEntryListResponse converts a slice of Entry models to EntryListResponse.
func ToEntryListResponse(entries []*model.Entry, nextCursor string, hasMore bool) *EntryListResponse {
	responses := make([]EntryResponse, len(entries))
	for i, entry := range entries {
		responses[i] = *ToEntryResponse(entry)
	}
	return &EntryListResponse{
		Data: responses,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}
