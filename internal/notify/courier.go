package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/model"
)

const (
	// DefaultDeliveryBatchSize is the number of deliveries sent per tick.
	DefaultDeliveryBatchSize = 50
)

// Courier performs signed HTTP deliveries of due webhook records.
// It is driven by the task runner.
type Courier struct {
	repo      *Repository
	client    *http.Client
	logger    *slog.Logger
	metrics   metrics.Recorder
	batchSize int
}

// NewCourier creates a new delivery courier.
func NewCourier(repo *Repository, logger *slog.Logger, recorder metrics.Recorder) *Courier {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Courier{
		repo:      repo,
		client:    NewHTTPClient(),
		logger:    logger.With("component", "notify.courier"),
		metrics:   recorder,
		batchSize: DefaultDeliveryBatchSize,
	}
}

// SetBatchSize overrides the default batch size.
func (c *Courier) SetBatchSize(size int) {
	if size > 0 {
		c.batchSize = size
	}
}

// DeliverOnce fetches and sends one batch of due deliveries.
// Returns the number of successful deliveries.
func (c *Courier) DeliverOnce(ctx context.Context) (int, error) {
	deliveries, err := c.repo.GetDueDeliveries(ctx, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get due deliveries: %w", err)
	}

	delivered := 0
	for _, delivery := range deliveries {
		if err := c.deliver(ctx, delivery); err != nil {
			c.logger.Warn("delivery attempt failed",
				"delivery_id", delivery.ID,
				"error", err,
			)
			continue
		}
		delivered++
	}

	return delivered, nil
}

// deliver attempts to send a single webhook.
func (c *Courier) deliver(ctx context.Context, delivery *model.Delivery) error {
	sub, err := c.repo.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Subscription removed under the delivery; stop retrying.
			return c.repo.UpdateDeliveryFailure(ctx, delivery.ID, nil, "subscription deleted", time.Now(), true)
		}
		return err
	}

	if !sub.Active {
		return c.repo.UpdateDeliveryFailure(ctx, delivery.ID, nil, "subscription disabled", time.Now(), true)
	}

	timestamp := time.Now().Unix()
	signature := GenerateSignature(sub.Secret, timestamp, []byte(delivery.PayloadJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader([]byte(delivery.PayloadJSON)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	SetWebhookHeaders(req, HTTPHeaders{
		Signature:  signature,
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: delivery.ID,
		EventType:  string(delivery.EventType),
	})

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return c.handleDeliveryError(ctx, delivery, nil, err.Error())
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("webhook delivered",
			"delivery_id", delivery.ID,
			"target_host", ExtractHost(sub.TargetURL),
			"http_status", resp.StatusCode,
			"duration_ms", duration.Milliseconds(),
		)
		c.metrics.DeliveryAttempt("success")
		return c.repo.UpdateDeliverySuccess(ctx, delivery.ID, resp.StatusCode)
	}

	return c.handleDeliveryError(ctx, delivery, &resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
}

// handleDeliveryError updates delivery status after a failed attempt.
func (c *Courier) handleDeliveryError(ctx context.Context, delivery *model.Delivery, httpStatus *int, errMsg string) error {
	nextAttempt := delivery.AttemptCount + 1
	exhausted := IsExhausted(nextAttempt, delivery.MaxAttempts)

	status := "failed"
	if exhausted {
		status = "exhausted"
	}

	c.logger.Warn("webhook delivery failed",
		"delivery_id", delivery.ID,
		"attempt", nextAttempt,
		"exhausted", exhausted,
		"error", errMsg,
	)

	c.metrics.DeliveryAttempt(status)

	nextAttemptAt := NextRetryAt(nextAttempt)
	return c.repo.UpdateDeliveryFailure(ctx, delivery.ID, httpStatus, errMsg, nextAttemptAt, exhausted)
}

// QueueDepth reports the number of undelivered webhook records.
func (c *Courier) QueueDepth(ctx context.Context) (int64, error) {
	return c.repo.GetQueueDepth(ctx)
}
