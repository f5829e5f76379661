package metrics

import "time"

// Noop is a Recorder that discards everything. Used in tests and
// when metrics are disabled.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) EntryOperation(op, status string)                    {}
func (Noop) SearchQuery(status string, duration time.Duration)   {}
func (Noop) IndexJobPublished(op string)                         {}
func (Noop) IndexJobProcessed(op, status string)                 {}
func (Noop) IndexQueueDepth(depth int64)                         {}
func (Noop) NotificationPublished(eventType string)              {}
func (Noop) DeliveryAttempt(status string)                       {}
func (Noop) TaskRun(name, status string, duration time.Duration) {}
