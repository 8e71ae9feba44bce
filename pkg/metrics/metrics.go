// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// JobsEnqueued tracks jobs added to the queue.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_enqueued_total",
			Help: "Total jobs added to the message queue",
		},
		[]string{"kind", "priority"},
	)

	// JobsProcessed tracks job outcomes.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total jobs settled, by outcome",
		},
		[]string{"result"},
	)

	// JobDuration tracks end-to-end job processing duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Job processing duration from dequeue to delivery",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// QueueDepth tracks current queue depth by state.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current queue depth by job state",
		},
		[]string{"state"},
	)

	// WorkersActive tracks consumers currently processing a job.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_workers_active",
			Help: "Number of workers currently processing a job",
		},
	)

	// WorkersConfigured tracks the configured worker pool size.
	WorkersConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_workers_configured",
			Help: "Configured worker pool concurrency",
		},
	)

	// LLMTokensTotal tracks total LLM tokens consumed per model.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens consumed",
		},
		[]string{"model"},
	)

	// IntentClassifications tracks classification outcomes.
	IntentClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_classifications_total",
			Help: "Total intent classifications, by category and source",
		},
		[]string{"category", "source"},
	)

	// Handoffs tracks human handoff decisions.
	Handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_handoffs_total",
			Help: "Total conversations flagged for human handoff",
		},
		[]string{"reason"},
	)

	// RoutingDecisions tracks migration routing outcomes.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_routing_decisions_total",
			Help: "Total traffic routing decisions, by target system",
		},
		[]string{"system"},
	)

	// AlertsEmitted tracks alerts produced by the evaluator.
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Total alerts emitted, by severity and category",
		},
		[]string{"severity", "category"},
	)
)

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	RequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
	RequestsTotal.WithLabelValues(method, path, statusStr).Inc()
}
