// Package search provides full-text indexing and querying of entries.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell/inkwell/internal/metrics"
)

const (
	// StreamKey is the Redis stream carrying index jobs.
	StreamKey = "stream:index_jobs"

	// DeadLetterStreamKey is the Redis stream for poison jobs.
	DeadLetterStreamKey = "stream:index_jobs:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for a fire-and-forget publish.
	PublishTimeout = 100 * time.Millisecond
)

// Index job operations.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// JobPayload is the compact job format for the Redis stream.
type JobPayload struct {
	Op       string `json:"op"`
	EntryID  string `json:"eid"`
	QueuedAt int64  `json:"t"` // Unix milliseconds
}

// ValidateJobPayload checks a decoded job before processing.
func ValidateJobPayload(p JobPayload) error {
	if p.Op != OpUpsert && p.Op != OpDelete {
		return fmt.Errorf("unknown op %q", p.Op)
	}
	if p.EntryID == "" {
		return errors.New("entry id missing")
	}
	return nil
}

// Publisher enqueues index jobs to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new index job publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "search.publisher"),
		metrics: recorder,
	}
}

// Publish adds an index job to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, op, entryID string) (string, error) {
	payload := JobPayload{
		Op:       op,
		EntryID:  entryID,
		QueuedAt: time.Now().UnixMilli(),
	}
	if err := ValidateJobPayload(payload); err != nil {
		return "", err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	p.metrics.IndexJobPublished(op)
	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned; the sweep task repairs any drift.
func (p *Publisher) PublishAsync(op, entryID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, op, entryID)
		if err != nil {
			p.logger.Warn("failed to publish index job",
				"op", op,
				"entry_id", entryID,
				"error", err,
			)
			return
		}

		p.logger.Debug("index job published",
			"op", op,
			"entry_id", entryID,
			"stream_id", streamID,
		)
	}()
}

// NewConsumerID creates a stable-ish consumer ID for Redis consumer groups.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "indexer"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}
