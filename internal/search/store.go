package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwell/inkwell/internal/model"
)

// maxBodyLength bounds the indexed body text per document.
const maxBodyLength = 20000

// Result is a single search hit.
type Result struct {
	EntryID  string  `json:"entry_id"`
	TypeKey  string  `json:"type"`
	Slug     string  `json:"slug"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Rank     float32 `json:"rank"`
}

// IndexState tracks rebuild and sweep progress for the index.
type IndexState struct {
	Rebuilding    bool       `json:"rebuilding"`
	LastSweepAt   *time.Time `json:"last_sweep_at,omitempty"`
	LastRebuildAt *time.Time `json:"last_rebuild_at,omitempty"`
}

// Drift describes entries whose index documents are missing, stale or
// orphaned.
type Drift struct {
	UpsertIDs []string
	DeleteIDs []string
}

// Store persists search documents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a document store on the shared connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertDocument indexes an entry, replacing any existing document.
// The weighted tsvector is built by PostgreSQL: title carries weight A,
// body weight B.
func (s *Store) UpsertDocument(ctx context.Context, entry *model.Entry) error {
	body := ExtractBody(entry.Fields)

	query := `
		INSERT INTO search_documents (entry_id, type_key, slug, title, body, document, source_updated_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5,
			setweight(to_tsvector('english', $4), 'A') || setweight(to_tsvector('english', $5), 'B'),
			$6, NOW())
		ON CONFLICT (entry_id) DO UPDATE SET
			type_key = EXCLUDED.type_key,
			slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			document = EXCLUDED.document,
			source_updated_at = EXCLUDED.source_updated_at,
			indexed_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.TypeKey,
		entry.Slug,
		entry.Title,
		body,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// DeleteDocument removes an entry from the index. Missing documents are
// not an error.
func (s *Store) DeleteDocument(ctx context.Context, entryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM search_documents WHERE entry_id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Search runs a ranked full-text query with headline snippets.
func (s *Store) Search(ctx context.Context, queryText, typeKey string, limit int) ([]*Result, error) {
	query := `
		SELECT entry_id, type_key, slug, title,
			ts_headline('english', body, q, 'MaxWords=30, MinWords=10, StartSel=<mark>, StopSel=</mark>') AS snippet,
			ts_rank(document, q) AS rank
		FROM search_documents, websearch_to_tsquery('english', $1) q
		WHERE document @@ q
	`
	args := []any{queryText}
	argIndex := 2

	if typeKey != "" {
		query += fmt.Sprintf(" AND type_key = $%d", argIndex)
		args = append(args, typeKey)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY rank DESC, entry_id LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.EntryID, &r.TypeKey, &r.Slug, &r.Title, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, &r)
	}

	return results, rows.Err()
}

// CountDocuments returns the number of indexed documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM search_documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// ClearAll drops every document. Used at the start of a rebuild.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE search_documents`)
	if err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

// FindDrift compares the index against live entries and reports
// documents to upsert (missing or outdated) and to delete (orphaned).
func (s *Store) FindDrift(ctx context.Context, limit int) (*Drift, error) {
	drift := &Drift{}

	// Live entries with no document, or whose row changed since indexing.
	upsertQuery := `
		SELECT e.id
		FROM entries e
		LEFT JOIN search_documents d ON d.entry_id = e.id
		WHERE e.trashed_at IS NULL
		AND (d.entry_id IS NULL OR d.source_updated_at < e.updated_at)
		ORDER BY e.id
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, upsertQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale documents: %w", err)
	}
	drift.UpsertIDs, err = collectIDs(rows)
	if err != nil {
		return nil, err
	}

	// Documents whose entry is gone or trashed.
	deleteQuery := `
		SELECT d.entry_id
		FROM search_documents d
		LEFT JOIN entries e ON e.id = d.entry_id
		WHERE e.id IS NULL OR e.trashed_at IS NOT NULL
		ORDER BY d.entry_id
		LIMIT $1
	`
	rows, err = s.pool.Query(ctx, deleteQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned documents: %w", err)
	}
	drift.DeleteIDs, err = collectIDs(rows)
	if err != nil {
		return nil, err
	}

	return drift, nil
}

// GetIndexState reads the singleton state row, returning zero values if
// it has never been written.
func (s *Store) GetIndexState(ctx context.Context) (*IndexState, error) {
	query := `SELECT rebuilding, last_sweep_at, last_rebuild_at FROM search_index_state WHERE id = 1`

	var state IndexState
	err := s.pool.QueryRow(ctx, query).Scan(&state.Rebuilding, &state.LastSweepAt, &state.LastRebuildAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &IndexState{}, nil
		}
		return nil, fmt.Errorf("failed to get index state: %w", err)
	}

	return &state, nil
}

// SetRebuilding flips the rebuild flag, stamping last_rebuild_at when a
// rebuild finishes.
func (s *Store) SetRebuilding(ctx context.Context, rebuilding bool) error {
	query := `
		INSERT INTO search_index_state (id, rebuilding, last_rebuild_at)
		VALUES (1, $1, CASE WHEN $1 THEN NULL ELSE NOW() END)
		ON CONFLICT (id) DO UPDATE SET
			rebuilding = EXCLUDED.rebuilding,
			last_rebuild_at = CASE WHEN $1 THEN search_index_state.last_rebuild_at ELSE NOW() END
	`
	_, err := s.pool.Exec(ctx, query, rebuilding)
	if err != nil {
		return fmt.Errorf("failed to set rebuild state: %w", err)
	}
	return nil
}

// TouchSweep records a completed sweep pass.
func (s *Store) TouchSweep(ctx context.Context) error {
	query := `
		INSERT INTO search_index_state (id, rebuilding, last_sweep_at)
		VALUES (1, false, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sweep_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to record sweep: %w", err)
	}
	return nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExtractBody flattens entry fields into indexable text. String values
// are collected in field-name order so output is deterministic; nested
// maps and lists are walked.
func ExtractBody(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		appendText(&b, fields[k])
		if b.Len() > maxBodyLength {
			break
		}
	}

	body := strings.TrimSpace(b.String())
	if len(body) > maxBodyLength {
		body = body[:maxBodyLength]
	}
	return body
}

func appendText(b *strings.Builder, v any) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(val)
	case []any:
		for _, item := range val {
			appendText(b, item)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			appendText(b, val[k])
		}
	}
}
