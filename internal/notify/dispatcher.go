package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
)

// DefaultDispatchBatchSize is the number of outbox rows processed per tick.
const DefaultDispatchBatchSize = 100

// Dispatcher fans pending outbox notifications out to matching
// subscriptions as delivery records, and optionally onto the message
// broker. It is driven by the task runner.
type Dispatcher struct {
	repo      *Repository
	amqp      *AMQPPublisher // nil when the broker is not configured
	logger    *slog.Logger
	metrics   metrics.Recorder
	batchSize int
}

// NewDispatcher creates a new outbox dispatcher. amqp may be nil.
func NewDispatcher(repo *Repository, amqp *AMQPPublisher, logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Dispatcher{
		repo:      repo,
		amqp:      amqp,
		logger:    logger.With("component", "notify.dispatcher"),
		metrics:   recorder,
		batchSize: DefaultDispatchBatchSize,
	}
}

// SetBatchSize overrides the default batch size.
func (d *Dispatcher) SetBatchSize(size int) {
	if size > 0 {
		d.batchSize = size
	}
}

// DispatchOnce processes one batch of pending notifications.
// Returns the number of notifications dispatched.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	notifications, err := d.repo.GetPendingNotifications(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending notifications: %w", err)
	}

	dispatched := 0
	for _, n := range notifications {
		if err := d.dispatch(ctx, n); err != nil {
			d.logger.Warn("dispatch failed",
				"notification_id", n.ID,
				"event_type", string(n.EventType),
				"error", err,
			)
			if markErr := d.repo.MarkNotificationFailed(ctx, n.ID); markErr != nil {
				d.logger.Error("failed to mark notification", "notification_id", n.ID, "error", markErr)
			}
			continue
		}
		dispatched++
	}

	return dispatched, nil
}

// dispatch fans a single notification out to deliveries and the broker.
func (d *Dispatcher) dispatch(ctx context.Context, n *model.Notification) error {
	subs, err := d.repo.ListActiveSubscriptionsForEvent(ctx, n.EventType)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	now := time.Now()
	for _, sub := range subs {
		delivery := &model.Delivery{
			ID:             ulid.Make().String(),
			SubscriptionID: sub.ID,
			NotificationID: n.ID,
			EventType:      n.EventType,
			PayloadJSON:    n.PayloadJSON,
			Status:         model.DeliveryStatusPending,
			AttemptCount:   0,
			MaxAttempts:    DefaultMaxAttempts,
			NextAttemptAt:  now, // Immediate delivery
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("create delivery for subscription %s: %w", sub.ID, err)
		}
	}

	if d.amqp != nil && d.amqp.IsConnected() {
		var payload json.RawMessage = []byte(n.PayloadJSON)
		if err := d.amqp.Publish(string(n.EventType), payload); err != nil {
			// Broker fan-out is best effort; webhook deliveries are already
			// persisted, so log and move on.
			d.logger.Warn("broker publish failed",
				"notification_id", n.ID,
				"event_type", string(n.EventType),
				"error", err,
			)
		}
	}

	if err := d.repo.MarkNotificationDispatched(ctx, n.ID); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}

	d.logger.Debug("notification dispatched",
		"notification_id", n.ID,
		"event_type", string(n.EventType),
		"subscriptions", len(subs),
	)

	return nil
}
