// Package metrics defines the instrumentation surface for the application.
// Components record through the Recorder interface so tests can run
// without a metrics backend.
package metrics

import "time"

// Recorder records application metrics.
type Recorder interface {
	// EntryOperation counts an entry mutation. op is create, update,
	// trash or purge; status is success or failure.
	EntryOperation(op, status string)

	// SearchQuery records a search request and its duration.
	SearchQuery(status string, duration time.Duration)

	// IndexJobPublished counts index jobs pushed onto the stream.
	IndexJobPublished(op string)

	// IndexJobProcessed counts index jobs consumed, with outcome.
	IndexJobProcessed(op, status string)

	// IndexQueueDepth records the pending length of the index stream.
	IndexQueueDepth(depth int64)

	// NotificationPublished counts outbox notifications by event type.
	NotificationPublished(eventType string)

	// DeliveryAttempt counts webhook delivery attempts, with outcome.
	DeliveryAttempt(status string)

	// TaskRun records a background task execution and its duration.
	TaskRun(name, status string, duration time.Duration)
}
