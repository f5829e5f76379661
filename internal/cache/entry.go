package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkwell/inkwell/internal/model"
)

// Cache key prefixes and TTLs.
const (
	entryKeyPrefix    = "entry:"
	negCacheKeySuffix = ":neg"

	// DefaultEntryTTL is the TTL for cached entry data.
	DefaultEntryTTL = 1 * time.Hour

	// NegativeCacheTTL is the TTL for negative cache entries.
	NegativeCacheTTL = 5 * time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// GetEntry retrieves an entry from cache by ID.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	key := entryKeyPrefix + id

	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	cached := &model.CachedEntry{
		TypeKey:    result["type_key"],
		Slug:       result["slug"],
		Title:      result["title"],
		FieldsJSON: result["fields_json"],
		Status:     result["status"],
		TrashedAt:  result["trashed_at"],
		CreatedAt:  result["created_at"],
		UpdatedAt:  result["updated_at"],
	}

	return cached.ToEntry(id), nil
}

// SetEntry stores an entry in cache.
func (c *Cache) SetEntry(ctx context.Context, entry *model.Entry) error {
	key := entryKeyPrefix + entry.ID
	cached := entry.ToCachedEntry()

	fields := map[string]any{
		"type_key":    cached.TypeKey,
		"slug":        cached.Slug,
		"title":       cached.Title,
		"fields_json": cached.FieldsJSON,
		"status":      cached.Status,
		"created_at":  cached.CreatedAt,
		"updated_at":  cached.UpdatedAt,
	}

	// Only set trashed_at if the entry is actually trashed
	if cached.TrashedAt != "" {
		fields["trashed_at"] = cached.TrashedAt
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, DefaultEntryTTL)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cache entry: %w", err)
	}

	// Remove negative cache if exists
	c.client.Del(ctx, key+negCacheKeySuffix)

	return nil
}

// DeleteEntry removes an entry from cache.
func (c *Cache) DeleteEntry(ctx context.Context, id string) error {
	key := entryKeyPrefix + id

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, key+negCacheKeySuffix)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete entry from cache: %w", err)
	}

	return nil
}

// IsNegativelyCached checks if an entry ID is in negative cache.
func (c *Cache) IsNegativelyCached(ctx context.Context, id string) (bool, error) {
	key := entryKeyPrefix + id + negCacheKeySuffix

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}

	return exists > 0, nil
}

// SetNegativeCache marks an entry ID as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, id string) error {
	key := entryKeyPrefix + id + negCacheKeySuffix

	err := c.client.SetEx(ctx, key, "", NegativeCacheTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}

	return nil
}
