package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:task:"

// releaseScript deletes a lock key only if it still holds our token.
// Without the token check a slow holder could delete a lease that
// another instance has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock attempts to take a lease on a named task for the given TTL.
// Returns true if this instance now holds the lease.
func (c *Cache) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock releases a lease if this instance still holds it.
func (c *Cache) ReleaseLock(ctx context.Context, name, token string) error {
	err := releaseScript.Run(ctx, c.client, []string{lockKeyPrefix + name}, token).Err()
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}
