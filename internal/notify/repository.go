package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/inkwell/inkwell/internal/model"
)

// Repository handles notification, subscription and delivery storage.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new notify repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// --- notifications outbox ---

// CreateNotification inserts a notification into the outbox.
func (r *Repository) CreateNotification(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, event_type, entity_type, entity_id, payload_json,
			status, attempts, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		string(n.EventType),
		n.EntityType,
		n.EntityID,
		n.PayloadJSON,
		string(n.Status),
		n.Attempts,
		n.OccurredAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetPendingNotifications fetches undispatched notifications for processing.
// Rows are locked so concurrent dispatchers do not double-process.
func (r *Repository) GetPendingNotifications(ctx context.Context, limit int) ([]*model.Notification, error) {
	query := `
		SELECT id, event_type, entity_type, entity_id, payload_json,
			   status, attempts, occurred_at, created_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		var eventType, status string

		if err := rows.Scan(
			&n.ID,
			&eventType,
			&n.EntityType,
			&n.EntityID,
			&n.PayloadJSON,
			&status,
			&n.Attempts,
			&n.OccurredAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		n.EventType = model.EventType(eventType)
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// MarkNotificationDispatched marks an outbox row as fanned out.
func (r *Repository) MarkNotificationDispatched(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET status = 'dispatched', attempts = attempts + 1
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark notification dispatched: %w", err)
	}
	return nil
}

// MarkNotificationFailed records a failed fan-out attempt.
// The row stays pending so a later tick can retry it.
func (r *Repository) MarkNotificationFailed(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET status = CASE WHEN attempts + 1 >= 10 THEN 'failed' ELSE 'pending' END,
			attempts = attempts + 1
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// ListNotifications returns recent notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, limit, offset int) ([]*model.Notification, error) {
	query := `
		SELECT id, event_type, entity_type, entity_id, payload_json,
			   status, attempts, occurred_at, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		var eventType, status string

		if err := rows.Scan(
			&n.ID,
			&eventType,
			&n.EntityType,
			&n.EntityID,
			&n.PayloadJSON,
			&status,
			&n.Attempts,
			&n.OccurredAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		n.EventType = model.EventType(eventType)
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// --- subscriptions ---

// CreateSubscription creates a new webhook subscription.
func (r *Repository) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, name, target_url, secret, event_types, active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	eventTypes := make([]string, len(sub.EventTypes))
	for i, et := range sub.EventTypes {
		eventTypes[i] = string(et)
	}

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Name,
		sub.TargetURL,
		sub.Secret,
		pq.Array(eventTypes),
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	query := `
		SELECT id, name, target_url, secret, event_types, active,
			   created_at, updated_at
		FROM subscriptions
		WHERE id = $1 AND deleted_at IS NULL
	`

	var sub model.Subscription
	var eventTypes []string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID,
		&sub.Name,
		&sub.TargetURL,
		&sub.Secret,
		pq.Array(&eventTypes),
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	sub.EventTypes = toEventTypes(eventTypes)
	return &sub, nil
}

// ListSubscriptions retrieves all subscriptions, newest first.
func (r *Repository) ListSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	query := `
		SELECT id, name, target_url, secret, event_types, active,
			   created_at, updated_at
		FROM subscriptions
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.querySubscriptions(ctx, query)
}

// ListActiveSubscriptionsForEvent retrieves active subscriptions whose
// filter matches the event. An empty filter matches every event.
func (r *Repository) ListActiveSubscriptionsForEvent(ctx context.Context, eventType model.EventType) ([]*model.Subscription, error) {
	query := `
		SELECT id, name, target_url, secret, event_types, active,
			   created_at, updated_at
		FROM subscriptions
		WHERE deleted_at IS NULL
		  AND active = true
		  AND (cardinality(event_types) = 0 OR $1 = ANY(event_types))
		ORDER BY created_at
	`

	return r.querySubscriptions(ctx, query, string(eventType))
}

func (r *Repository) querySubscriptions(ctx context.Context, query string, args ...any) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var eventTypes []string

		if err := rows.Scan(
			&sub.ID,
			&sub.Name,
			&sub.TargetURL,
			&sub.Secret,
			pq.Array(&eventTypes),
			&sub.Active,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}

		sub.EventTypes = toEventTypes(eventTypes)
		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}

// UpdateSubscription updates a subscription's mutable fields.
func (r *Repository) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	query := `
		UPDATE subscriptions
		SET name = $2, target_url = $3, event_types = $4, active = $5,
			updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL
	`

	eventTypes := make([]string, len(sub.EventTypes))
	for i, et := range sub.EventTypes {
		eventTypes[i] = string(et)
	}

	result, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Name,
		sub.TargetURL,
		pq.Array(eventTypes),
		sub.Active,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

// RotateSubscriptionSecret replaces the signing secret for a subscription.
func (r *Repository) RotateSubscriptionSecret(ctx context.Context, id, secret string) error {
	query := `
		UPDATE subscriptions
		SET secret = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, secret, time.Now())
	if err != nil {
		return fmt.Errorf("rotate subscription secret: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription soft-deletes a subscription.
func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	query := `
		UPDATE subscriptions
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

// --- deliveries ---

// CreateDelivery creates a new delivery record. Duplicate fan-out of the
// same notification to the same subscription is a no-op.
func (r *Repository) CreateDelivery(ctx context.Context, d *model.Delivery) error {
	query := `
		INSERT INTO deliveries (
			id, subscription_id, notification_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_attempt_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (notification_id, subscription_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.SubscriptionID,
		d.NotificationID,
		string(d.EventType),
		d.PayloadJSON,
		string(d.Status),
		d.AttemptCount,
		d.MaxAttempts,
		d.NextAttemptAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetDueDeliveries retrieves deliveries ready to be sent.
func (r *Repository) GetDueDeliveries(ctx context.Context, limit int) ([]*model.Delivery, error) {
	query := `
		SELECT d.id, d.subscription_id, d.notification_id, d.event_type,
			   d.payload_json, d.status, d.attempt_count, d.max_attempts,
			   d.last_http_status, d.last_error, d.next_attempt_at,
			   d.created_at, d.updated_at
		FROM deliveries d
		JOIN subscriptions s ON d.subscription_id = s.id
		WHERE d.status IN ('pending', 'failed')
		  AND d.next_attempt_at <= $1
		  AND s.deleted_at IS NULL
		  AND s.active = true
		ORDER BY d.next_attempt_at
		LIMIT $2
		FOR UPDATE OF d SKIP LOCKED
	`

	rows, err := r.db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// UpdateDeliverySuccess marks a delivery as delivered.
func (r *Repository) UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	query := `
		UPDATE deliveries
		SET status = 'delivered',
			attempt_count = attempt_count + 1,
			last_http_status = $3,
			last_error = '',
			updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, time.Now(), httpStatus)
	if err != nil {
		return fmt.Errorf("update delivery success: %w", err)
	}
	return nil
}

// UpdateDeliveryFailure marks a delivery as failed and schedules a retry,
// or marks it exhausted when the attempt budget is spent.
func (r *Repository) UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextAttemptAt time.Time, exhausted bool) error {
	status := "failed"
	if exhausted {
		status = "exhausted"
	}

	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	query := `
		UPDATE deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_http_status = $4,
			last_error = $5,
			next_attempt_at = $6,
			updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, status, time.Now(), httpStatus, errMsg, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("update delivery failure: %w", err)
	}
	return nil
}

// ResetDeliveryForRetry re-queues an exhausted delivery for manual retry.
func (r *Repository) ResetDeliveryForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE deliveries
		SET status = 'pending',
			next_attempt_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'exhausted'
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("reset delivery: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDeliveryNotFound
	}

	return nil
}

// ListDeliveriesBySubscription retrieves deliveries for a subscription
// with offset pagination and an optional status filter.
func (r *Repository) ListDeliveriesBySubscription(ctx context.Context, subscriptionID string, statuses []string, limit, offset int) ([]*model.Delivery, int, error) {
	var whereClause strings.Builder
	args := []any{subscriptionID}
	argIdx := 2

	whereClause.WriteString("WHERE subscription_id = $1")

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		whereClause.WriteString(fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ",")))
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM deliveries %s`, whereClause.String())
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, subscription_id, notification_id, event_type,
			   payload_json, status, attempt_count, max_attempts,
			   last_http_status, last_error, next_attempt_at,
			   created_at, updated_at
		FROM deliveries
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause.String(), argIdx, argIdx+1)

	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries, err := scanDeliveries(rows)
	if err != nil {
		return nil, 0, err
	}

	return deliveries, total, nil
}

// GetQueueDepth returns the count of pending and failed deliveries.
func (r *Repository) GetQueueDepth(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM deliveries
		WHERE status IN ('pending', 'failed')
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

func scanDeliveries(rows *sql.Rows) ([]*model.Delivery, error) {
	var deliveries []*model.Delivery
	for rows.Next() {
		var d model.Delivery
		var eventType, status string
		var lastError sql.NullString

		if err := rows.Scan(
			&d.ID,
			&d.SubscriptionID,
			&d.NotificationID,
			&eventType,
			&d.PayloadJSON,
			&status,
			&d.AttemptCount,
			&d.MaxAttempts,
			&d.LastHTTPStatus,
			&lastError,
			&d.NextAttemptAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}

		d.EventType = model.EventType(eventType)
		d.Status = model.DeliveryStatus(status)
		d.LastError = lastError.String
		deliveries = append(deliveries, &d)
	}

	return deliveries, rows.Err()
}

func toEventTypes(raw []string) []model.EventType {
	out := make([]model.EventType, len(raw))
	for i, et := range raw {
		out[i] = model.EventType(et)
	}
	return out
}
