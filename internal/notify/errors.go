package notify

import "errors"

// Sentinel errors for notification operations.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDeliveryNotFound     = errors.New("delivery not found")
	ErrNotificationNotFound = errors.New("notification not found")
)
