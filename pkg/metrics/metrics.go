// Package metrics provides Prometheus metrics for the Sage service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal tracks pipeline runs by job and status
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by job and status",
		},
		[]string{"job", "status"},
	)

	// PipelineRunDuration tracks pipeline run duration in seconds
	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// ExtractPagesTotal tracks pages fetched during extraction
	ExtractPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "extract",
			Name:      "pages_total",
			Help:      "Total number of pages fetched from sources",
		},
		[]string{"tenant_id"},
	)

	// ExtractRecordsTotal tracks raw records by outcome (inserted or duplicate)
	ExtractRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "extract",
			Name:      "records_total",
			Help:      "Total number of extracted records by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// ExtractSourceErrors tracks per-source extraction failures
	ExtractSourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "extract",
			Name:      "source_errors_total",
			Help:      "Total number of sources that failed during extraction",
		},
		[]string{"tenant_id"},
	)

	// TransformRecordsTotal tracks transformed records by kind
	TransformRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "transform",
			Name:      "records_total",
			Help:      "Total number of transformed records by detected kind",
		},
		[]string{"kind"},
	)

	// TransformBatchesTotal tracks transform batches committed
	TransformBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "transform",
			Name:      "batches_total",
			Help:      "Total number of transform batches committed",
		},
	)

	// AggregateBucketsTotal tracks daily metric buckets recomputed
	AggregateBucketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "aggregate",
			Name:      "buckets_total",
			Help:      "Total number of daily metric buckets recomputed",
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests to sources
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueDepth tracks the current job queue length
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sage",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs currently in the queue stream",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"reason"},
	)

	// SchedulerSourcesScheduled tracks sources scheduled for refresh
	SchedulerSourcesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "scheduler",
			Name:      "sources_scheduled_total",
			Help:      "Total number of source refreshes scheduled",
		},
	)

	// RateLimitWaitTime tracks time spent waiting for per-source rate limits
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source_id"},
	)

	// KafkaMessagesPublished tracks events published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks intake messages consumed from Kafka
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of intake messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordRun records a pipeline run metric
func RecordRun(job, status string, durationSeconds float64) {
	PipelineRunsTotal.WithLabelValues(job, status).Inc()
	PipelineRunDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(reason string) {
	DLQJobsTotal.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordKafkaConsume records a Kafka intake consume operation
func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}
