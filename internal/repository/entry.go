package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inkwell/inkwell/internal/model"
)

// Common errors for entry repository operations.
var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrSlugExists    = errors.New("slug already exists")
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// EntryFilter defines filters for listing entries.
type EntryFilter struct {
	TypeKey       string
	Status        model.EntryStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// PaginationCursor represents decoded cursor for pagination.
type PaginationCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateEntry inserts a new entry into the database.
func (r *Repository) CreateEntry(ctx context.Context, entry *model.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("marshal entry fields: %w", err)
	}

	query := `
		INSERT INTO entries (id, type_key, slug, title, fields, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.TypeKey,
		entry.Slug,
		entry.Title,
		fieldsJSON,
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	)

	if err != nil {
		// Check for unique constraint violation on (type_key, slug)
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create entry: %w", err)
	}

	return nil
}

// GetEntryByID retrieves an entry by its ID. Trashed entries are
// still returned; callers decide how to present them.
func (r *Repository) GetEntryByID(ctx context.Context, id string) (*model.Entry, error) {
	query := `
		SELECT id, type_key, slug, title, fields, status, trashed_at, created_at, updated_at
		FROM entries
		WHERE id = $1
	`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry by ID: %w", err)
	}

	return entry, nil
}

// GetEntryBySlug retrieves a live entry by type and slug.
func (r *Repository) GetEntryBySlug(ctx context.Context, typeKey, slug string) (*model.Entry, error) {
	query := `
		SELECT id, type_key, slug, title, fields, status, trashed_at, created_at, updated_at
		FROM entries
		WHERE type_key = $1 AND slug = $2 AND trashed_at IS NULL
	`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, typeKey, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry by slug: %w", err)
	}

	return entry, nil
}

// ListEntries retrieves a paginated list of live entries.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter, cursor string, limit int) ([]*model.Entry, string, error) {
	// Decode cursor if provided
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = decodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	// Build query with filters
	query := `
		SELECT id, type_key, slug, title, fields, status, trashed_at, created_at, updated_at
		FROM entries
		WHERE trashed_at IS NULL
	`
	var args []any
	argIndex := 1

	if filter.TypeKey != "" {
		query += fmt.Sprintf(" AND type_key = $%d", argIndex)
		args = append(args, filter.TypeKey)
		argIndex++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating entries: %w", err)
	}

	// Determine if there are more results
	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit] // Remove extra row
		last := entries[len(entries)-1]
		nextCursor = encodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return entries, nextCursor, nil
}

// UpdateEntry updates an entry's mutable fields.
func (r *Repository) UpdateEntry(ctx context.Context, entry *model.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("marshal entry fields: %w", err)
	}

	query := `
		UPDATE entries
		SET slug = $2, title = $3, fields = $4, status = $5, updated_at = $6
		WHERE id = $1 AND trashed_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Slug,
		entry.Title,
		fieldsJSON,
		entry.Status,
		entry.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to update entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// TrashEntry performs a soft delete on an entry.
func (r *Repository) TrashEntry(ctx context.Context, id string) error {
	query := `
		UPDATE entries
		SET trashed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND trashed_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to trash entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// PurgeTrashedEntries hard-deletes entries trashed before the cutoff.
// Returns the IDs of purged entries so deletion events can be emitted.
func (r *Repository) PurgeTrashedEntries(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		DELETE FROM entries
		WHERE trashed_at IS NOT NULL AND trashed_at < $1
		RETURNING id
	`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge trashed entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan purged id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purged ids: %w", err)
	}

	return ids, nil
}

// SlugExists checks if a slug is taken for a content type.
func (r *Repository) SlugExists(ctx context.Context, typeKey, slug string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM entries WHERE type_key = $1 AND slug = $2 AND trashed_at IS NULL)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, typeKey, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug existence: %w", err)
	}

	return exists, nil
}

// CountLiveEntries returns the number of live entries.
func (r *Repository) CountLiveEntries(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE trashed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// ListLiveEntryIDs returns a page of live entry IDs after the given ID.
// Used by index rebuilds to walk the whole table in batches.
func (r *Repository) ListLiveEntryIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `
		SELECT id FROM entries
		WHERE trashed_at IS NULL AND id > $1
		ORDER BY id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetEntriesByIDs fetches entries by ID, skipping IDs that no longer exist.
func (r *Repository) GetEntriesByIDs(ctx context.Context, ids []string) ([]*model.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, type_key, slug, title, fields, status, trashed_at, created_at, updated_at
		FROM entries
		WHERE id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries by ids: %w", err)
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// scanEntry scans a single row into an Entry model.
func scanEntry(row pgx.Row) (*model.Entry, error) {
	var entry model.Entry
	var fieldsJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.TypeKey,
		&entry.Slug,
		&entry.Title,
		&fieldsJSON,
		&entry.Status,
		&entry.TrashedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &entry.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal entry fields: %w", err)
		}
	}
	if entry.Fields == nil {
		entry.Fields = map[string]any{}
	}

	return &entry, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	// PostgreSQL error code 23505 is unique_violation
	return err != nil && (strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "unique"))
}

// encodeCursor encodes pagination cursor to base64.
func encodeCursor(cursor *PaginationCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// decodeCursor decodes base64 pagination cursor.
func decodeCursor(s string) (*PaginationCursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}
