package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Recorder backed by prometheus collectors.
type Prometheus struct {
	registry *prometheus.Registry

	entryOps      *prometheus.CounterVec
	searchQueries *prometheus.HistogramVec
	jobsPublished *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	notifications *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	taskRuns      *prometheus.HistogramVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates a Prometheus recorder with its own registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	p := &Prometheus{
		registry: registry,
		entryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_entry_operations_total",
				Help: "Total number of entry mutations",
			},
			[]string{"op", "status"},
		),
		searchQueries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inkwell_search_query_duration_seconds",
				Help:    "Search query duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"status"},
		),
		jobsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_index_jobs_published_total",
				Help: "Total number of index jobs published to the stream",
			},
			[]string{"op"},
		),
		jobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_index_jobs_processed_total",
				Help: "Total number of index jobs consumed",
			},
			[]string{"op", "status"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inkwell_index_queue_depth",
				Help: "Pending length of the index job stream",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_notifications_published_total",
				Help: "Total number of notifications written to the outbox",
			},
			[]string{"event_type"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_webhook_delivery_attempts_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"status"},
		),
		taskRuns: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inkwell_task_run_duration_seconds",
				Help:    "Background task run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"name", "status"},
		),
	}

	registry.MustRegister(
		p.entryOps,
		p.searchQueries,
		p.jobsPublished,
		p.jobsProcessed,
		p.queueDepth,
		p.notifications,
		p.deliveries,
		p.taskRuns,
	)

	return p
}

// Handler returns the /metrics HTTP handler for this registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) EntryOperation(op, status string) {
	p.entryOps.WithLabelValues(op, status).Inc()
}

func (p *Prometheus) SearchQuery(status string, duration time.Duration) {
	p.searchQueries.WithLabelValues(status).Observe(duration.Seconds())
}

func (p *Prometheus) IndexJobPublished(op string) {
	p.jobsPublished.WithLabelValues(op).Inc()
}

func (p *Prometheus) IndexJobProcessed(op, status string) {
	p.jobsProcessed.WithLabelValues(op, status).Inc()
}

func (p *Prometheus) IndexQueueDepth(depth int64) {
	p.queueDepth.Set(float64(depth))
}

func (p *Prometheus) NotificationPublished(eventType string) {
	p.notifications.WithLabelValues(eventType).Inc()
}

func (p *Prometheus) DeliveryAttempt(status string) {
	p.deliveries.WithLabelValues(status).Inc()
}

func (p *Prometheus) TaskRun(name, status string, duration time.Duration) {
	p.taskRuns.WithLabelValues(name, status).Observe(duration.Seconds())
}
