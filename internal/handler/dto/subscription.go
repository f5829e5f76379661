package dto

import (
	"time"

	"github.com/inkwell/inkwell/internal/model"
)

// CreateSubscriptionRequest represents the request body for creating a
// webhook subscription.
type CreateSubscriptionRequest struct {
	Name       string            `json:"name"`
	TargetURL  string            `json:"target_url"`
	EventTypes []model.EventType `json:"event_types,omitempty"`
}

// UpdateSubscriptionRequest represents the request body for updating a
// subscription. Nil fields are left unchanged.
type UpdateSubscriptionRequest struct {
	Name       *string            `json:"name,omitempty"`
	TargetURL  *string            `json:"target_url,omitempty"`
	EventTypes *[]model.EventType `json:"event_types,omitempty"`
	Active     *bool              `json:"active,omitempty"`
}

// SubscriptionResponse represents a subscription without its secret.
type SubscriptionResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	TargetURL  string            `json:"target_url"`
	EventTypes []model.EventType `json:"event_types"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SubscriptionCreateResponse includes the signing secret, shown once.
type SubscriptionCreateResponse struct {
	SubscriptionResponse
	Secret string `json:"secret"`
}

// SubscriptionListResponse is the list envelope for subscriptions.
type SubscriptionListResponse struct {
	Data []SubscriptionResponse `json:"data"`
}

// DeliveryListResponse is a paged list of webhook deliveries.
type DeliveryListResponse struct {
	Data  []*model.Delivery `json:"data"`
	Total int64             `json:"total"`
}

// NotificationListResponse is a paged list of notifications.
type NotificationListResponse struct {
	Data []*model.Notification `json:"data"`
}

// ToSubscriptionResponse converts a Subscription model to its DTO.
func ToSubscriptionResponse(sub *model.Subscription) SubscriptionResponse {
	eventTypes := sub.EventTypes
	if eventTypes == nil {
		eventTypes = []model.EventType{}
	}
	return SubscriptionResponse{
		ID:         sub.ID,
		Name:       sub.Name,
		TargetURL:  sub.TargetURL,
		EventTypes: eventTypes,
		Active:     sub.Active,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}
