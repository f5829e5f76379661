package model

import (
	"encoding/json"
	"slices"
	"time"
)

// EventType identifies the kind of change a notification describes.
type EventType string

const (
	EventEntryCreated       EventType = "entry.created"
	EventEntryUpdated       EventType = "entry.updated"
	EventEntryTrashed       EventType = "entry.trashed"
	EventEntryDeleted       EventType = "entry.deleted"
	EventContentTypeDeleted EventType = "content_type.deleted"

	EventIndexRebuildStarted   EventType = "index.rebuild_started"
	EventIndexRebuildCompleted EventType = "index.rebuild_completed"

	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskStopped   EventType = "task.stopped"
	EventTaskCancelled EventType = "task.cancelled"
)

// AllEventTypes lists every event a subscription may filter on.
var AllEventTypes = []EventType{
	EventEntryCreated,
	EventEntryUpdated,
	EventEntryTrashed,
	EventEntryDeleted,
	EventContentTypeDeleted,
	EventIndexRebuildStarted,
	EventIndexRebuildCompleted,
	EventTaskStarted,
	EventTaskCompleted,
	EventTaskFailed,
	EventTaskStopped,
	EventTaskCancelled,
}

// IsValid checks whether the event type is known.
func (e EventType) IsValid() bool {
	return slices.Contains(AllEventTypes, e)
}

// NotificationStatus tracks outbox dispatch state.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationDispatched NotificationStatus = "dispatched"
	NotificationFailed     NotificationStatus = "failed"
)

// Notification is an event payload describing a change to an entity.
// Rows are written in the request path and dispatched asynchronously.
type Notification struct {
	ID          string             `json:"id"`
	EventType   EventType          `json:"event_type"`
	EntityType  string             `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	PayloadJSON string             `json:"-"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	OccurredAt  time.Time          `json:"occurred_at"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NotificationPayload is the wire format delivered to subscribers.
type NotificationPayload struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Marshal renders the payload as JSON.
func (p *NotificationPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Subscription is a webhook endpoint registered for event notifications.
type Subscription struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	TargetURL  string      `json:"target_url"`
	Secret     string      `json:"-"` // Signing secret, never serialized
	EventTypes []EventType `json:"event_types"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Matches reports whether the subscription wants the given event.
// An empty filter matches every event.
func (s *Subscription) Matches(event EventType) bool {
	if !s.Active {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	return slices.Contains(s.EventTypes, event)
}

// DeliveryStatus tracks the state of a single webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// Delivery is the attempt stream of one notification to one subscription.
type Delivery struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	NotificationID string         `json:"notification_id"`
	EventType      EventType      `json:"event_type"`
	PayloadJSON    string         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	LastHTTPStatus *int           `json:"last_http_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
