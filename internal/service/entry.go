// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkwell/inkwell/internal/cache"
	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/repository"
	"github.com/inkwell/inkwell/internal/schema"
	"github.com/inkwell/inkwell/internal/search"
)

// Service errors.
var (
	ErrEntryNotFound  = errors.New("entry not found")
	ErrEntryTrashed   = errors.New("entry is trashed")
	ErrUnknownType    = errors.New("unknown content type")
	ErrInvalidTitle   = errors.New("invalid title")
	ErrInvalidSlug    = errors.New("invalid slug format")
	ErrSlugReserved   = errors.New("slug is reserved")
	ErrSlugTaken      = errors.New("slug already exists")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrInvalidFields  = errors.New("invalid fields")
	ErrInvalidCursor  = errors.New("invalid pagination cursor")
)

// Slug validation: lowercase words separated by single hyphens.
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const (
	maxSlugLength  = 120
	maxTitleLength = 200
)

// reservedSlugs cannot be used for entries. They collide with system
// routes or are common abuse targets.
var reservedSlugs = map[string]bool{
	"api":     true,
	"admin":   true,
	"healthz": true,
	"readyz":  true,
	"metrics": true,
	"static":  true,
	"assets":  true,
	"search":  true,
	"index":   true,
	"inkwell": true,
	"login":   true,
	"logout":  true,
	"auth":    true,
	"webhook": true,
}

// Notifier publishes change events.
type Notifier interface {
	Publish(ctx context.Context, eventType model.EventType, entityType, entityID string, data map[string]any) error
}

// IndexQueue enqueues search index jobs.
type IndexQueue interface {
	PublishAsync(op, entryID string)
}

// EntryService handles entry business logic.
type EntryService struct {
	repo     *repository.Repository
	cache    *cache.Cache
	registry *schema.Registry
	notifier Notifier
	index    IndexQueue
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewEntryService creates a new EntryService. notifier and index may be
// nil for deployments without those subsystems.
func NewEntryService(repo *repository.Repository, c *cache.Cache, registry *schema.Registry, notifier Notifier, index IndexQueue, logger *slog.Logger, recorder metrics.Recorder) *EntryService {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &EntryService{
		repo:     repo,
		cache:    c,
		registry: registry,
		notifier: notifier,
		index:    index,
		logger:   logger.With("component", "service.entry"),
		metrics:  recorder,
	}
}

// CreateEntryInput defines input for creating an entry.
type CreateEntryInput struct {
	TypeKey string
	Slug    string
	Title   string
	Fields  map[string]any
	Status  string
}

// CreateEntry validates and creates a new entry.
func (s *EntryService) CreateEntry(ctx context.Context, input CreateEntryInput) (*model.Entry, error) {
	if _, ok := s.registry.Get(input.TypeKey); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, input.TypeKey)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, ErrInvalidTitle
	}

	slug := input.Slug
	if slug == "" {
		slug = Slugify(title)
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	status := model.EntryStatusDraft
	if input.Status != "" {
		status = model.EntryStatus(input.Status)
		if !status.IsValid() {
			return nil, ErrInvalidStatus
		}
	}

	fields := input.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	if err := s.registry.ValidateFields(input.TypeKey, fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFields, err)
	}

	now := time.Now().UTC()
	entry := &model.Entry{
		ID:        ulid.Make().String(),
		TypeKey:   input.TypeKey,
		Slug:      slug,
		Title:     title,
		Fields:    fields,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			s.metrics.EntryOperation("create", "conflict")
			return nil, ErrSlugTaken
		}
		s.metrics.EntryOperation("create", "error")
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}

	s.metrics.EntryOperation("create", "success")
	s.afterMutation(ctx, model.EventEntryCreated, entry, search.OpUpsert)

	return entry, nil
}

// GetEntry retrieves an entry by ID, cache first.
func (s *EntryService) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	if s.cache != nil {
		cached, err := s.cache.GetEntry(ctx, id)
		if err == nil {
			return cached, nil
		}
		if errors.Is(err, cache.ErrCacheMiss) {
			if negative, _ := s.cache.IsNegativelyCached(ctx, id); negative {
				return nil, ErrEntryNotFound
			}
		} else {
			s.logger.Warn("entry cache read failed", "entry_id", id, "error", err)
		}
	}

	entry, err := s.repo.GetEntryByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			if s.cache != nil {
				_ = s.cache.SetNegativeCache(ctx, id)
			}
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEntry(ctx, entry); err != nil {
			s.logger.Warn("entry cache write failed", "entry_id", id, "error", err)
		}
	}

	return entry, nil
}

// GetEntryBySlug retrieves a live entry by type and slug.
func (s *EntryService) GetEntryBySlug(ctx context.Context, typeKey, slug string) (*model.Entry, error) {
	entry, err := s.repo.GetEntryBySlug(ctx, typeKey, slug)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListEntriesInput defines input for listing entries.
type ListEntriesInput struct {
	TypeKey       string
	Status        string
	Cursor        string
	Limit         int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListEntriesOutput defines output for listing entries.
type ListEntriesOutput struct {
	Entries    []*model.Entry
	NextCursor string
	HasMore    bool
}

// ListEntries retrieves a paginated list of live entries.
func (s *EntryService) ListEntries(ctx context.Context, input ListEntriesInput) (*ListEntriesOutput, error) {
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 20
	}

	if input.TypeKey != "" {
		if _, ok := s.registry.Get(input.TypeKey); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, input.TypeKey)
		}
	}

	var status model.EntryStatus
	if input.Status != "" {
		status = model.EntryStatus(input.Status)
		if !status.IsValid() {
			return nil, ErrInvalidStatus
		}
	}

	filter := repository.EntryFilter{
		TypeKey:       input.TypeKey,
		Status:        status,
		CreatedAfter:  input.CreatedAfter,
		CreatedBefore: input.CreatedBefore,
	}

	entries, nextCursor, err := s.repo.ListEntries(ctx, filter, input.Cursor, input.Limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, err
	}

	return &ListEntriesOutput{
		Entries:    entries,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	}, nil
}

// UpdateEntryInput defines input for updating an entry. Nil pointers
// leave the field unchanged.
type UpdateEntryInput struct {
	ID     string
	Slug   *string
	Title  *string
	Fields map[string]any
	Status *string
}

// UpdateEntry updates an entry's mutable fields.
func (s *EntryService) UpdateEntry(ctx context.Context, input UpdateEntryInput) (*model.Entry, error) {
	entry, err := s.repo.GetEntryByID(ctx, input.ID)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if entry.TrashedAt != nil {
		return nil, ErrEntryTrashed
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" || len(title) > maxTitleLength {
			return nil, ErrInvalidTitle
		}
		entry.Title = title
	}

	if input.Slug != nil {
		if err := ValidateSlug(*input.Slug); err != nil {
			return nil, err
		}
		entry.Slug = *input.Slug
	}

	if input.Status != nil {
		status := model.EntryStatus(*input.Status)
		if !status.IsValid() {
			return nil, ErrInvalidStatus
		}
		entry.Status = status
	}

	if input.Fields != nil {
		if err := s.registry.ValidateFields(entry.TypeKey, input.Fields); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFields, err)
		}
		entry.Fields = input.Fields
	}

	entry.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateEntry(ctx, entry); err != nil {
		switch {
		case errors.Is(err, repository.ErrSlugExists):
			s.metrics.EntryOperation("update", "conflict")
			return nil, ErrSlugTaken
		case errors.Is(err, repository.ErrEntryNotFound):
			return nil, ErrEntryNotFound
		}
		s.metrics.EntryOperation("update", "error")
		return nil, err
	}

	s.metrics.EntryOperation("update", "success")
	s.invalidateCache(ctx, entry.ID)
	s.afterMutation(ctx, model.EventEntryUpdated, entry, search.OpUpsert)

	return entry, nil
}

// TrashEntry soft-deletes an entry. The entry leaves listings and the
// search index; the purge task hard-deletes it after retention.
func (s *EntryService) TrashEntry(ctx context.Context, id string) error {
	entry, err := s.repo.GetEntryByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return err
	}
	if entry.TrashedAt != nil {
		return ErrEntryNotFound
	}

	if err := s.repo.TrashEntry(ctx, id); err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		s.metrics.EntryOperation("trash", "error")
		return err
	}

	s.metrics.EntryOperation("trash", "success")
	s.invalidateCache(ctx, id)
	s.afterMutation(ctx, model.EventEntryTrashed, entry, search.OpDelete)

	return nil
}

// PurgeTrashedOnce hard-deletes entries trashed longer than retention
// ago, emitting entry.deleted per purged row. It has the task function
// shape so the scheduler can run it on an interval.
func (s *EntryService) PurgeTrashedOnce(retention time.Duration) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		cutoff := time.Now().UTC().Add(-retention)

		ids, err := s.repo.PurgeTrashedEntries(ctx, cutoff)
		if err != nil {
			return true, err
		}
		if len(ids) == 0 {
			return true, nil
		}

		for _, id := range ids {
			s.invalidateCache(ctx, id)
			if s.index != nil {
				s.index.PublishAsync(search.OpDelete, id)
			}
			if s.notifier != nil {
				if err := s.notifier.Publish(ctx, model.EventEntryDeleted, "entry", id, nil); err != nil {
					s.logger.Warn("failed to publish purge event", "entry_id", id, "error", err)
				}
			}
		}

		s.logger.Info("trashed entries purged", "count", len(ids))
		return true, nil
	}
}

// afterMutation fans the change out to the outbox and the index queue.
func (s *EntryService) afterMutation(ctx context.Context, event model.EventType, entry *model.Entry, indexOp string) {
	if s.notifier != nil {
		data := map[string]any{
			"type":   entry.TypeKey,
			"slug":   entry.Slug,
			"title":  entry.Title,
			"status": string(entry.EffectiveStatus()),
		}
		if err := s.notifier.Publish(ctx, event, "entry", entry.ID, data); err != nil {
			s.logger.Warn("failed to publish entry event",
				"event", event,
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	if s.index != nil {
		s.index.PublishAsync(indexOp, entry.ID)
	}
}

func (s *EntryService) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteEntry(ctx, id); err != nil {
		s.logger.Warn("entry cache invalidation failed", "entry_id", id, "error", err)
	}
}

// ValidateSlug checks slug format, length and the reserved list.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > maxSlugLength {
		return ErrInvalidSlug
	}
	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	if reservedSlugs[slug] {
		return ErrSlugReserved
	}
	return nil
}

// Slugify derives a slug from a title: lowercase, non-alphanumerics
// collapsed to single hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	return slug
}
