// Package metrics exposes Prometheus collectors for the render pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Render outcomes used as the "outcome" label of RendersTotal.
const (
	OutcomeDelivered      = "delivered"
	OutcomeCleanupPartial = "cleanup_partial"
	OutcomeFailed         = "failed"
	OutcomeRejected       = "rejected"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "montage_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
		},
		[]string{"method", "endpoint"},
	)

	// Render Metrics
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_renders_total",
			Help: "Total number of renders by outcome",
		},
		[]string{"outcome"},
	)

	RendersInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "montage_renders_in_progress",
			Help: "Number of renders currently holding a pipeline slot",
		},
	)

	RenderQueueTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montage_render_queue_time_seconds",
			Help:    "Time renders spend waiting for a pipeline slot",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "montage_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"stage"},
	)

	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_media_items_total",
			Help: "Total number of media items received by kind",
		},
		[]string{"kind"},
	)

	SkippedItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_skipped_items_total",
			Help: "Total number of media items dropped as unsupported",
		},
	)

	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_cleanup_failures_total",
			Help: "Total number of temporary files that could not be removed",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRender records the final outcome of a render
func RecordRender(outcome string) {
	RendersTotal.WithLabelValues(outcome).Inc()
}

// RecordStage records how long a pipeline stage took
func RecordStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordItem records a received media item of the given kind
func RecordItem(kind string) {
	ItemsTotal.WithLabelValues(kind).Inc()
}

// RecordSkipped records n unsupported items
func RecordSkipped(n int) {
	SkippedItemsTotal.Add(float64(n))
}

// RecordCleanupFailure records a temporary file that survived cleanup
func RecordCleanupFailure() {
	CleanupFailuresTotal.Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}
