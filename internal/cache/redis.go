// Package cache wraps the shared Redis connection. One client backs all
// the Redis-side concerns of the service: the entry cache (entry.go),
// auth context cache (auth.go), and the task lease store (lock.go); the
// search pipeline borrows the same client for its job stream.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pool sizing. The stream consumer holds a connection blocked on
// XREADGROUP, so the pool must never shrink to a single conn.
const (
	poolSize     = 10
	minIdleConns = 2
	poolTimeout  = 4 * time.Second
	maxIdleTime  = 5 * time.Minute
)

// Cache is the shared Redis handle.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = poolSize
	opt.MinIdleConns = minIdleConns
	opt.PoolTimeout = poolTimeout
	opt.ConnMaxIdleTime = maxIdleTime

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Ping checks Redis connectivity, for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying client for the stream publisher and
// indexer, which speak raw Redis commands. Cached data stays behind
// the typed methods on Cache.
func (c *Cache) Client() *redis.Client {
	return c.client
}
