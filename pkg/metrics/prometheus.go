// Package metrics provides Prometheus metrics for the top-K leaderboard engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Admission
	eventsAdmitted  prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	ledgerSize      prometheus.Gauge

	// Authoritative store
	storeApplyLatency prometheus.Histogram
	storeErrors       prometheus.Counter
	storeReplays      prometheus.Counter

	// Top-K cache
	cacheVersionBumps  prometheus.Counter
	cacheShortCircuits prometheus.Counter
	cacheErrors        prometheus.Counter
	snapshotVersion    prometheus.Gauge
	usersTracked       prometheus.Gauge
	cacheUpdateLatency prometheus.Histogram

	// Diff + fanout
	diffSize        prometheus.Histogram
	publishMessages   *prometheus.CounterVec
	publishErrors     prometheus.Counter
	publishRetries    prometheus.Counter
	publishDropped    prometheus.Counter
	publishDuplicates prometheus.Counter
	publishLatency    prometheus.Histogram

	// Reconciler
	reconcileRuns     prometheus.Counter
	reconcileDrift    prometheus.Counter
	reconcileErrors   prometheus.Counter
	reconcileDuration prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "topk",
		subsystem:        "leaderboard",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.eventsAdmitted = m.counter("events_admitted_total", "Score events accepted by the admission guard")
	m.eventsRejected = m.counterVec("events_rejected_total", "Score events rejected by the admission guard", "reason")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Replayed action tokens answered idempotently")
	m.ledgerSize = m.gauge("ledger_size", "Action identifiers currently held by the idempotency ledger")

	m.storeApplyLatency = m.histogram("store_apply_latency_milliseconds", "Authoritative increment transaction latency in milliseconds", m.histogramBuckets)
	m.storeErrors = m.counter("store_errors_total", "Authoritative increments that could not be attempted or committed")
	m.storeReplays = m.counter("store_replays_total", "Increments rejected by event id uniqueness in the store")

	m.cacheVersionBumps = m.counter("cache_version_bumps_total", "Top-K snapshot versions produced")
	m.cacheShortCircuits = m.counter("cache_short_circuits_total", "Cache updates proven not to affect the top K")
	m.cacheErrors = m.counter("cache_errors_total", "Cache updates that failed after a committed write")
	m.snapshotVersion = m.gauge("snapshot_version", "Current top-K snapshot version")
	m.usersTracked = m.gauge("users_tracked", "Users held by the ranked structure")
	m.cacheUpdateLatency = m.histogram("cache_update_latency_milliseconds", "Ranked structure update latency in milliseconds", m.histogramBuckets)

	m.diffSize = m.histogram("diff_size_entries", "Entries carried by a published diff", []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000})
	m.publishMessages = m.counterVec("publish_messages_total", "Change feed messages published by type", "type")
	m.publishErrors = m.counter("publish_errors_total", "Change feed publishes that exhausted their retries")
	m.publishRetries = m.counter("publish_retries_total", "Change feed publish retry attempts")
	m.publishDropped = m.counter("publish_dropped_total", "Snapshot changes dropped before reaching the publisher")
	m.publishDuplicates = m.counter("publish_duplicates_total", "Change feed messages the stream acknowledged as duplicates")
	m.publishLatency = m.histogram("publish_latency_milliseconds", "Change feed publish latency in milliseconds", m.histogramBuckets)

	m.reconcileRuns = m.counter("reconcile_runs_total", "Reconciliation passes executed")
	m.reconcileDrift = m.counter("reconcile_drift_total", "Reconciliation passes that detected drift")
	m.reconcileErrors = m.counter("reconcile_errors_total", "Reconciliation passes that failed")
	m.reconcileDuration = m.histogram("reconcile_duration_milliseconds", "Reconciliation pass duration in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Current size of the publish queue (backlog indicator)")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum publish queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of active workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of worker errors")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventAdmitted increments the admitted events counter.
func RecordEventAdmitted() { globalManager.eventsAdmitted.Inc() }

// RecordEventRejected increments the rejected events counter for reason.
func RecordEventRejected(reason string) { globalManager.eventsRejected.WithLabelValues(reason).Inc() }

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// UpdateLedgerSize sets the idempotency ledger size.
func UpdateLedgerSize(size int64) { globalManager.ledgerSize.Set(float64(size)) }

// RecordStoreApplyLatency records the authoritative increment latency.
func RecordStoreApplyLatency(latencyMs float64) { globalManager.storeApplyLatency.Observe(latencyMs) }

// RecordStoreError increments the store error counter.
func RecordStoreError() { globalManager.storeErrors.Inc() }

// RecordStoreReplay increments the store replay counter.
func RecordStoreReplay() { globalManager.storeReplays.Inc() }

// RecordCacheVersionBump increments the snapshot version counter.
func RecordCacheVersionBump() { globalManager.cacheVersionBumps.Inc() }

// RecordCacheShortCircuit increments the short-circuit counter.
func RecordCacheShortCircuit() { globalManager.cacheShortCircuits.Inc() }

// RecordCacheError increments the cache error counter.
func RecordCacheError() { globalManager.cacheErrors.Inc() }

// UpdateSnapshotVersion sets the current snapshot version.
func UpdateSnapshotVersion(version uint64) { globalManager.snapshotVersion.Set(float64(version)) }

// UpdateUsersTracked sets the number of users in the ranked structure.
func UpdateUsersTracked(count int) { globalManager.usersTracked.Set(float64(count)) }

// RecordCacheUpdateLatency records ranked structure update latency.
func RecordCacheUpdateLatency(latencyMs float64) { globalManager.cacheUpdateLatency.Observe(latencyMs) }

// RecordDiffSize records how many entries a diff carried.
func RecordDiffSize(entries int) { globalManager.diffSize.Observe(float64(entries)) }

// RecordPublish increments the published messages counter for a message type.
func RecordPublish(messageType string) { globalManager.publishMessages.WithLabelValues(messageType).Inc() }

// RecordPublishError increments the publish error counter.
func RecordPublishError() { globalManager.publishErrors.Inc() }

// RecordPublishRetry increments the publish retry counter.
func RecordPublishRetry() { globalManager.publishRetries.Inc() }

// RecordPublishDropped increments the dropped change counter.
func RecordPublishDropped() { globalManager.publishDropped.Inc() }

// RecordPublishDuplicate increments the counter of messages the stream
// dropped as already seen.
func RecordPublishDuplicate() { globalManager.publishDuplicates.Inc() }

// RecordPublishLatency records publish latency.
func RecordPublishLatency(latencyMs float64) { globalManager.publishLatency.Observe(latencyMs) }

// RecordReconcileRun increments the reconcile run counter.
func RecordReconcileRun() { globalManager.reconcileRuns.Inc() }

// RecordReconcileDrift increments the reconcile drift counter.
func RecordReconcileDrift() { globalManager.reconcileDrift.Inc() }

// RecordReconcileError increments the reconcile error counter.
func RecordReconcileError() { globalManager.reconcileErrors.Inc() }

// RecordReconcileDuration records the duration of a reconciliation pass.
func RecordReconcileDuration(latencyMs float64) { globalManager.reconcileDuration.Observe(latencyMs) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrorRate.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
