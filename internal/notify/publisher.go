package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
)

// Publisher writes notifications into the outbox. It runs in the request
// path, so it must only do a single insert; fan-out happens later in the
// dispatcher.
type Publisher struct {
	repo    *Repository
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new notification publisher.
func NewPublisher(repo *Repository, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Publisher{
		repo:    repo,
		logger:  logger.With("component", "notify.publisher"),
		metrics: recorder,
	}
}

// Publish records an event in the outbox.
func (p *Publisher) Publish(ctx context.Context, eventType model.EventType, entityType, entityID string, data map[string]any) error {
	now := time.Now()

	payload := model.NotificationPayload{
		EventID:    ulid.Make().String(),
		EventType:  string(eventType),
		EntityType: entityType,
		EntityID:   entityID,
		OccurredAt: now,
		Data:       data,
	}

	payloadJSON, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	notification := &model.Notification{
		ID:          payload.EventID,
		EventType:   eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		PayloadJSON: string(payloadJSON),
		Status:      model.NotificationPending,
		OccurredAt:  now,
		CreatedAt:   now,
	}

	if err := p.repo.CreateNotification(ctx, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	p.metrics.NotificationPublished(string(eventType))

	p.logger.Debug("notification published",
		"notification_id", notification.ID,
		"event_type", string(eventType),
		"entity_type", entityType,
		"entity_id", entityID,
	)

	return nil
}
