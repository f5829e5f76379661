package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "index_workers"

	// DefaultBatchSize is the max jobs per batch.
	DefaultBatchSize = 200

	// DefaultBlockTimeout is how long to block waiting for jobs.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max retries for batch processing.
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// EntrySource loads entries for indexing.
type EntrySource interface {
	GetEntriesByIDs(ctx context.Context, ids []string) ([]*model.Entry, error)
}

// DocumentStore writes index documents.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, entry *model.Entry) error
	DeleteDocument(ctx context.Context, entryID string) error
}

// Indexer consumes index jobs from the Redis stream and applies them to
// the document store.
type Indexer struct {
	redis           *redis.Client
	entries         EntrySource
	store           DocumentStore
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewIndexer creates a new stream indexer.
func NewIndexer(client *redis.Client, entries EntrySource, store DocumentStore, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Indexer {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Indexer{
		redis:           client,
		entries:         entries,
		store:           store,
		logger:          logger.With("component", "search.indexer", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// Run starts the indexer loop. Blocks until the context is cancelled.
func (w *Indexer) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("indexer already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("indexer started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("indexer draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("indexer stopping")
			return ctx.Err()
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Shutdown gracefully stops the indexer, completing any in-flight batch.
// It implements server.ShutdownFunc.
func (w *Indexer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("indexer shutdown initiated")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			w.logger.Info("indexer shutdown complete")
			return nil
		case <-ctx.Done():
			w.logger.Warn("indexer shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// SetBatchSize overrides the default batch size.
func (w *Indexer) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Indexer) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// ensureConsumerGroup creates the consumer group if it doesn't exist.
func (w *Indexer) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce reads and processes a single batch.
func (w *Indexer) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	claimed, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	if len(messages) == 0 {
		return nil
	}

	jobs, messageIDs := w.parseMessages(ctx, messages)
	if len(jobs) == 0 {
		// All messages were malformed, ACK them anyway to not block
		return w.ackMessages(ctx, messageIDs)
	}

	if err := w.applyBatchWithRetry(ctx, jobs); err != nil {
		w.logger.Error("batch indexing failed after retries",
			"batch_size", len(jobs),
			"error", err,
		)
		// Do not ACK so the jobs can be retried later.
		return err
	}

	return w.ackMessages(ctx, messageIDs)
}

// maybeClaimPending checks for stuck pending messages and reclaims them.
func (w *Indexer) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Indexer) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := QueueDepth(ctx, w.redis)
	if err != nil {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	w.metrics.IndexQueueDepth(depth)
}

// QueueDepth reports pending plus unread jobs on the index stream.
func QueueDepth(ctx context.Context, client *redis.Client) (int64, error) {
	groups, err := client.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if err == redis.Nil || isNoStreamError(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			return group.Pending + group.Lag, nil
		}
	}
	return 0, nil
}

// readBatch reads messages from the stream using XREADGROUP.
func (w *Indexer) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()

	if err == redis.Nil || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// parseMessages decodes jobs, dead-lettering malformed ones. Duplicate
// jobs for the same entry collapse to the last one seen.
func (w *Indexer) parseMessages(ctx context.Context, messages []redis.XMessage) ([]JobPayload, []string) {
	messageIDs := make([]string, 0, len(messages))
	byEntry := make(map[string]JobPayload, len(messages))
	order := make([]string, 0, len(messages))

	for _, msg := range messages {
		messageIDs = append(messageIDs, msg.ID)

		payload, ok := msg.Values["payload"].(string)
		if !ok {
			w.deadLetterMessage(ctx, msg, "invalid_format", "payload field missing or not a string")
			continue
		}

		var job JobPayload
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			w.deadLetterMessage(ctx, msg, "unmarshal_error", err.Error())
			continue
		}
		if err := ValidateJobPayload(job); err != nil {
			w.deadLetterMessage(ctx, msg, "validation_error", err.Error())
			continue
		}

		if _, seen := byEntry[job.EntryID]; !seen {
			order = append(order, job.EntryID)
		}
		byEntry[job.EntryID] = job
	}

	jobs := make([]JobPayload, 0, len(byEntry))
	for _, id := range order {
		jobs = append(jobs, byEntry[id])
	}

	return jobs, messageIDs
}

// deadLetterMessage moves a poison message to the dead-letter queue.
func (w *Indexer) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		w.logger.Error("failed to write to dead-letter queue",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IndexJobProcessed("unknown", "dead_lettered")
}

// applyBatchWithRetry attempts to apply a batch with exponential backoff.
func (w *Indexer) applyBatchWithRetry(ctx context.Context, jobs []JobPayload) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if err := w.applyBatch(ctx, jobs); err != nil {
			lastErr = err
			backoff := time.Duration(1<<attempt) * time.Second
			w.logger.Warn("batch indexing failed, retrying",
				"attempt", attempt,
				"backoff_seconds", backoff.Seconds(),
				"error", err,
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		return nil
	}

	for _, job := range jobs {
		w.metrics.IndexJobProcessed(job.Op, "failed")
	}
	return lastErr
}

// applyBatch resolves entries and writes documents. An upsert for an
// entry that is gone or trashed turns into a delete so stale jobs
// cannot resurrect documents.
func (w *Indexer) applyBatch(ctx context.Context, jobs []JobPayload) error {
	start := time.Now()

	var upsertIDs []string
	for _, job := range jobs {
		if job.Op == OpUpsert {
			upsertIDs = append(upsertIDs, job.EntryID)
		}
	}

	live := make(map[string]*model.Entry, len(upsertIDs))
	if len(upsertIDs) > 0 {
		entries, err := w.entries.GetEntriesByIDs(ctx, upsertIDs)
		if err != nil {
			return fmt.Errorf("load entries: %w", err)
		}
		for _, entry := range entries {
			if entry.IsLive() {
				live[entry.ID] = entry
			}
		}
	}

	for _, job := range jobs {
		switch job.Op {
		case OpUpsert:
			entry, ok := live[job.EntryID]
			if !ok {
				if err := w.store.DeleteDocument(ctx, job.EntryID); err != nil {
					return err
				}
				w.metrics.IndexJobProcessed(OpDelete, "success")
				continue
			}
			if err := w.store.UpsertDocument(ctx, entry); err != nil {
				return err
			}
		case OpDelete:
			if err := w.store.DeleteDocument(ctx, job.EntryID); err != nil {
				return err
			}
		}
		w.metrics.IndexJobProcessed(job.Op, "success")
	}

	w.logger.Info("batch indexed",
		"jobs_count", len(jobs),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	return nil
}

// ackMessages acknowledges processed messages.
func (w *Indexer) ackMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	_, err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, messageIDs...).Result()
	if err != nil {
		return fmt.Errorf("xack: %w", err)
	}

	return nil
}

// isConsumerGroupExistsError checks if the error is "BUSYGROUP" (group exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		err.Error() == "BUSYGROUP")
}

// isNoStreamError checks for XINFO against a stream that has no
// messages yet.
func isNoStreamError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
