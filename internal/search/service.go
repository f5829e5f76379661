package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
)

const (
	// rebuildBatchSize is how many entry IDs are re-enqueued per page
	// during a rebuild.
	rebuildBatchSize = 500

	// sweepBatchSize bounds drift repair per sweep pass.
	sweepBatchSize = 1000

	// staleThreshold is how old the last sweep may be before the index
	// is reported stale.
	staleThreshold = 15 * time.Minute
)

// ErrRebuildInProgress is returned when a rebuild is requested while one
// is already running.
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// Index health states.
const (
	IndexHealthy    = "healthy"
	IndexStale      = "stale"
	IndexRebuilding = "rebuilding"
)

// EntryCounter reports live entry totals and pages of live entry IDs.
type EntryCounter interface {
	CountLiveEntries(ctx context.Context) (int64, error)
	ListLiveEntryIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Notifier publishes lifecycle events for the index.
type Notifier interface {
	Publish(ctx context.Context, eventType model.EventType, entityType, entityID string, data map[string]any) error
}

// Status is the operator view of the index.
type Status struct {
	State          string     `json:"state"`
	DocumentCount  int64      `json:"document_count"`
	LiveEntryCount int64      `json:"live_entry_count"`
	QueueDepth     int64      `json:"queue_depth"`
	LastSweepAt    *time.Time `json:"last_sweep_at,omitempty"`
	LastRebuildAt  *time.Time `json:"last_rebuild_at,omitempty"`
}

// Service exposes index health, rebuild and drift repair.
type Service struct {
	store     *Store
	entries   EntryCounter
	publisher *Publisher
	redis     *redis.Client
	notifier  Notifier
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewService creates the index service. notifier may be nil.
func NewService(store *Store, entries EntryCounter, publisher *Publisher, client *redis.Client, notifier Notifier, logger *slog.Logger, recorder metrics.Recorder) *Service {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Service{
		store:     store,
		entries:   entries,
		publisher: publisher,
		redis:     client,
		notifier:  notifier,
		logger:    logger.With("component", "search.service"),
		metrics:   recorder,
	}
}

// Search runs a ranked query, recording timing.
func (s *Service) Search(ctx context.Context, query, typeKey string, limit int) ([]*Result, error) {
	start := time.Now()

	results, err := s.store.Search(ctx, query, typeKey, limit)
	if err != nil {
		s.metrics.SearchQuery("error", time.Since(start))
		return nil, err
	}

	s.metrics.SearchQuery("success", time.Since(start))
	return results, nil
}

// Status reports index health: document vs entry counts, queue depth and
// sweep/rebuild timestamps, reduced to a single state.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	state, err := s.store.GetIndexState(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := s.store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}

	live, err := s.entries.CountLiveEntries(ctx)
	if err != nil {
		return nil, err
	}

	depth, err := QueueDepth(ctx, s.redis)
	if err != nil {
		s.logger.Warn("failed to read queue depth", "error", err)
		depth = -1
	}

	status := &Status{
		DocumentCount:  docs,
		LiveEntryCount: live,
		QueueDepth:     depth,
		LastSweepAt:    state.LastSweepAt,
		LastRebuildAt:  state.LastRebuildAt,
	}

	switch {
	case state.Rebuilding:
		status.State = IndexRebuilding
	case state.LastSweepAt == nil || time.Since(*state.LastSweepAt) > staleThreshold:
		status.State = IndexStale
	default:
		status.State = IndexHealthy
	}

	return status, nil
}

// Rebuild clears the index and re-enqueues every live entry in batches.
// The rebuild flag stays set until the sweep task observes an idle queue
// and clears it.
func (s *Service) Rebuild(ctx context.Context) (int64, error) {
	state, err := s.store.GetIndexState(ctx)
	if err != nil {
		return 0, err
	}
	if state.Rebuilding {
		return 0, ErrRebuildInProgress
	}

	if err := s.store.SetRebuilding(ctx, true); err != nil {
		return 0, err
	}

	s.notifyIndexEvent(ctx, model.EventIndexRebuildStarted, nil)

	if err := s.store.ClearAll(ctx); err != nil {
		return 0, err
	}

	var enqueued int64
	afterID := ""
	for {
		ids, err := s.entries.ListLiveEntryIDs(ctx, afterID, rebuildBatchSize)
		if err != nil {
			return enqueued, fmt.Errorf("list entries for rebuild: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if _, err := s.publisher.Publish(ctx, OpUpsert, id); err != nil {
				return enqueued, fmt.Errorf("enqueue rebuild job: %w", err)
			}
			enqueued++
		}
		afterID = ids[len(ids)-1]
	}

	s.logger.Info("index rebuild enqueued", "entries", enqueued)
	return enqueued, nil
}

// SweepOnce repairs drift between entries and documents by re-enqueueing
// just the drifted IDs. It has the task function shape so the scheduler
// can run it on an interval.
func (s *Service) SweepOnce(ctx context.Context) (bool, error) {
	drift, err := s.store.FindDrift(ctx, sweepBatchSize)
	if err != nil {
		return true, err
	}

	for _, id := range drift.UpsertIDs {
		if _, err := s.publisher.Publish(ctx, OpUpsert, id); err != nil {
			return true, fmt.Errorf("enqueue drift upsert: %w", err)
		}
	}
	for _, id := range drift.DeleteIDs {
		if _, err := s.publisher.Publish(ctx, OpDelete, id); err != nil {
			return true, fmt.Errorf("enqueue drift delete: %w", err)
		}
	}

	if len(drift.UpsertIDs) > 0 || len(drift.DeleteIDs) > 0 {
		s.logger.Info("index drift repaired",
			"upserts", len(drift.UpsertIDs),
			"deletes", len(drift.DeleteIDs),
		)
	}

	if err := s.maybeFinishRebuild(ctx, drift); err != nil {
		return true, err
	}

	if err := s.store.TouchSweep(ctx); err != nil {
		return true, err
	}

	return true, nil
}

// maybeFinishRebuild clears the rebuild flag once the queue has drained
// and no drift remains.
func (s *Service) maybeFinishRebuild(ctx context.Context, drift *Drift) error {
	state, err := s.store.GetIndexState(ctx)
	if err != nil {
		return err
	}
	if !state.Rebuilding {
		return nil
	}
	if len(drift.UpsertIDs) > 0 || len(drift.DeleteIDs) > 0 {
		return nil
	}

	depth, err := QueueDepth(ctx, s.redis)
	if err != nil || depth > 0 {
		return err
	}

	if err := s.store.SetRebuilding(ctx, false); err != nil {
		return err
	}

	docs, _ := s.store.CountDocuments(ctx)
	s.logger.Info("index rebuild completed", "documents", docs)
	s.notifyIndexEvent(ctx, model.EventIndexRebuildCompleted, map[string]any{
		"document_count": docs,
	})
	return nil
}

func (s *Service) notifyIndexEvent(ctx context.Context, event model.EventType, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, event, "index", "search", data); err != nil {
		s.logger.Warn("failed to publish index event", "event", event, "error", err)
	}
}
