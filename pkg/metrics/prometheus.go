// Package metrics provides Prometheus metrics for the moodline aggregation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the moodline service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion metrics
	eventsIngested    prometheus.Counter
	eventsDuplicate   prometheus.Counter
	eventsBackfill    prometheus.Counter
	ingestionRejected prometheus.Counter

	// Aggregation metrics
	bucketsMutated      prometheus.Counter
	aggregationRetries  prometheus.Counter
	aggregationFailures prometheus.Counter
	bucketsClosed       prometheus.Counter
	storeWriteLatency   prometheus.Histogram

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueueErrs prometheus.Counter

	// Stream metrics
	activeSubscriptions  prometheus.Gauge
	subscriptionsEvicted prometheus.Counter
	streamEventsEmitted  *prometheus.CounterVec
	streamEventsDropped  prometheus.Counter
	notificationsDropped prometheus.Counter
	replayResyncs        prometheus.Counter

	// Sweeper metrics
	sweeperScanned       prometheus.Counter
	sweeperReconciled    prometheus.Counter
	sweeperErrors        prometheus.Counter
	sweeperCycleDuration prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "moodline",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_ingested_total",
		Help:      "Total number of scored events accepted at the ingestion entry point",
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total number of duplicate events dropped by the dedup set",
	})

	m.eventsBackfill = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_backfill_total",
		Help:      "Total number of late events that updated closed buckets silently",
	})

	m.ingestionRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ingestion_rejected_total",
		Help:      "Total number of events rejected at ingestion due to backpressure",
	})

	m.bucketsMutated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buckets_mutated_total",
		Help:      "Total number of bucket increments applied to the bucket store",
	})

	m.aggregationRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregation_retries_total",
		Help:      "Total number of retried bucket store writes",
	})

	m.aggregationFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregation_failures_total",
		Help:      "Total number of events whose aggregation failed after the retry budget",
	})

	m.bucketsClosed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buckets_closed_total",
		Help:      "Total number of partial buckets that crossed their window end",
	})

	m.storeWriteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_write_latency_milliseconds",
		Help:      "Histogram of bucket store increment latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of events waiting in the ingest queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the ingest queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Ingest queue utilization as a ratio of size to capacity",
	})

	m.queueEnqueueErrs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of failed enqueue attempts",
	})

	m.activeSubscriptions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_subscriptions",
		Help:      "Current number of live stream subscriptions",
	})

	m.subscriptionsEvicted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "subscriptions_evicted_total",
		Help:      "Total number of subscriptions evicted as closed or presumed dead",
	})

	m.streamEventsEmitted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stream_events_emitted_total",
		Help:      "Total number of stream events emitted by kind",
	}, []string{"kind"})

	m.streamEventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stream_events_dropped_total",
		Help:      "Total number of stream events dropped on slow-consumer buffers",
	})

	m.notificationsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_dropped_total",
		Help:      "Total number of bucket-change notifications dropped on a full dispatch channel",
	})

	m.replayResyncs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "replay_resyncs_total",
		Help:      "Total number of resume attempts older than the replay log horizon",
	})

	m.sweeperScanned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweeper_scanned_total",
		Help:      "Total number of stale pending events seen by the sweeper",
	})

	m.sweeperReconciled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweeper_reconciled_total",
		Help:      "Total number of stale events re-submitted to the ingestion entry point",
	})

	m.sweeperErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweeper_errors_total",
		Help:      "Total number of sweeper scan or republish errors",
	})

	m.sweeperCycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweeper_cycle_duration_milliseconds",
		Help:      "Histogram of full sweep cycle duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// Ingestion helpers.

func RecordEventIngested() {
	globalManager.eventsIngested.Inc()
}

func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

func RecordEventBackfill() {
	globalManager.eventsBackfill.Inc()
}

func RecordIngestionRejected() {
	globalManager.ingestionRejected.Inc()
}

// Aggregation helpers.

func RecordBucketMutated() {
	globalManager.bucketsMutated.Inc()
}

func RecordAggregationRetry() {
	globalManager.aggregationRetries.Inc()
}

func RecordAggregationFailure() {
	globalManager.aggregationFailures.Inc()
}

func RecordBucketClosed() {
	globalManager.bucketsClosed.Inc()
}

func RecordStoreWriteLatency(latencyMs float64) {
	globalManager.storeWriteLatency.Observe(latencyMs)
}

// Queue helpers.

func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrs.Inc()
}

// Stream helpers.

func UpdateActiveSubscriptions(count int) {
	globalManager.activeSubscriptions.Set(float64(count))
}

func RecordSubscriptionEvicted() {
	globalManager.subscriptionsEvicted.Inc()
}

func RecordStreamEventEmitted(kind string) {
	globalManager.streamEventsEmitted.WithLabelValues(kind).Inc()
}

func RecordStreamEventDropped() {
	globalManager.streamEventsDropped.Inc()
}

func RecordNotificationDropped() {
	globalManager.notificationsDropped.Inc()
}

func RecordReplayResync() {
	globalManager.replayResyncs.Inc()
}

// Sweeper helpers.

func RecordSweeperScanned(count int) {
	globalManager.sweeperScanned.Add(float64(count))
}

func RecordSweeperReconciled() {
	globalManager.sweeperReconciled.Inc()
}

func RecordSweeperError() {
	globalManager.sweeperErrors.Inc()
}

func RecordSweeperCycleDuration(durationMs float64) {
	globalManager.sweeperCycleDuration.Observe(durationMs)
}

// HTTP helpers.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
