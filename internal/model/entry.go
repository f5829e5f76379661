// Package model defines domain entities for the application.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// EntryStatus represents the editorial status of a content entry.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "draft"
	EntryStatusPublished EntryStatus = "published"
	EntryStatusTrashed   EntryStatus = "trashed"
)

// IsValid checks if the status is a value clients may set.
// Trashed is reached through DELETE, never set directly.
func (s EntryStatus) IsValid() bool {
	return s == EntryStatusDraft || s == EntryStatusPublished
}

// Entry represents a content entry of some content type.
type Entry struct {
	ID        string         `json:"id"`
	TypeKey   string         `json:"type"`
	Slug      string         `json:"slug"`
	Title     string         `json:"title"`
	Fields    map[string]any `json:"fields"`
	Status    EntryStatus    `json:"status"`
	TrashedAt *time.Time     `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EffectiveStatus computes the status clients observe.
func (e *Entry) EffectiveStatus() EntryStatus {
	if e.TrashedAt != nil {
		return EntryStatusTrashed
	}
	return e.Status
}

// IsLive returns true if the entry participates in search and listings.
func (e *Entry) IsLive() bool {
	return e.TrashedAt == nil
}

// CachedEntry represents entry data stored in Redis cache.
// Uses string types for Redis hash compatibility.
type CachedEntry struct {
	TypeKey    string `redis:"type_key"`
	Slug       string `redis:"slug"`
	Title      string `redis:"title"`
	FieldsJSON string `redis:"fields_json"`
	Status     string `redis:"status"`
	TrashedAt  string `redis:"trashed_at"` // Unix timestamp or empty
	CreatedAt  string `redis:"created_at"` // Unix timestamp
	UpdatedAt  string `redis:"updated_at"` // Unix timestamp
}

// ToEntry converts CachedEntry to the Entry domain model.
func (c *CachedEntry) ToEntry(id string) *Entry {
	entry := &Entry{
		ID:      id,
		TypeKey: c.TypeKey,
		Slug:    c.Slug,
		Title:   c.Title,
		Status:  EntryStatus(c.Status),
	}

	if c.FieldsJSON != "" {
		// A corrupt cache payload falls back to empty fields; the DB row
		// stays authoritative on the next miss.
		_ = json.Unmarshal([]byte(c.FieldsJSON), &entry.Fields)
	}
	if entry.Fields == nil {
		entry.Fields = map[string]any{}
	}

	if c.TrashedAt != "" {
		if ts, err := strconv.ParseInt(c.TrashedAt, 10, 64); err == nil {
			t := time.Unix(ts, 0)
			entry.TrashedAt = &t
		}
	}
	if c.CreatedAt != "" {
		if ts, err := strconv.ParseInt(c.CreatedAt, 10, 64); err == nil {
			entry.CreatedAt = time.Unix(ts, 0)
		}
	}
	if c.UpdatedAt != "" {
		if ts, err := strconv.ParseInt(c.UpdatedAt, 10, 64); err == nil {
			entry.UpdatedAt = time.Unix(ts, 0)
		}
	}

	return entry
}

// ToCachedEntry converts an Entry to its cached form.
func (e *Entry) ToCachedEntry() *CachedEntry {
	fieldsJSON, _ := json.Marshal(e.Fields)

	cached := &CachedEntry{
		TypeKey:    e.TypeKey,
		Slug:       e.Slug,
		Title:      e.Title,
		FieldsJSON: string(fieldsJSON),
		Status:     string(e.Status),
		CreatedAt:  strconv.FormatInt(e.CreatedAt.Unix(), 10),
		UpdatedAt:  strconv.FormatInt(e.UpdatedAt.Unix(), 10),
	}

	if e.TrashedAt != nil {
		cached.TrashedAt = strconv.FormatInt(e.TrashedAt.Unix(), 10)
	}

	return cached
}
