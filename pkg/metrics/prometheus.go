// Package metrics provides Prometheus metrics for the pivot pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer
	gatherer         prometheus.Gatherer

	// Stream metrics - input record flow
	recordsIngested prometheus.Counter
	recordsDropped  prometheus.Counter
	ticksObserved   prometheus.Counter

	// Recovered-error metrics, labeled by error kind (unknown_slot,
	// sealed_entity, ...). Fatal errors abort the run and are not counted here.
	recoveredErrors *prometheus.CounterVec

	// Registry metrics - entity lifecycle
	liveEntities   prometheus.Gauge
	entitiesSealed prometheus.Counter
	slotReuses     prometheus.Counter

	// Series metrics
	seriesFinalized prometheus.Counter
	snapshotRows    prometheus.Counter

	// Derivation metrics
	deriveLatency prometheus.Histogram
	derivedRows   prometheus.Counter
	deriveErrors  prometheus.Counter

	// Queue metrics - sealed entities awaiting derivation
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueDequeues    prometheus.Counter
	queueEnqueueErrs prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// Export metrics
	tablesExported prometheus.Counter
	rowsExported   prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry), WithGatherer(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pivot",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
		gatherer:         prometheus.DefaultGatherer,
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

	m.recordsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_ingested_total",
		Help:      "Total number of raw records consumed from the input stream",
	})

	m.recordsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_dropped_total",
		Help:      "Total number of records dropped by recovery policy",
	})

	m.ticksObserved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ticks_observed_total",
		Help:      "Total number of distinct simulation ticks observed",
	})

	m.recoveredErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "recovered_errors_total",
			Help:      "Total number of recovered per-record errors by kind",
		},
		[]string{"kind"},
	)

	m.liveEntities = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "live_entities",
		Help:      "Current number of open (unsealed) entity handles",
	})

	m.entitiesSealed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "entities_sealed_total",
		Help:      "Total number of entity handles sealed",
	})

	m.slotReuses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "slot_reuses_total",
		Help:      "Total number of raw slots rebound to a new handle after a destroy",
	})

	m.seriesFinalized = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "series_finalized_total",
		Help:      "Total number of dense entity series frozen",
	})

	m.snapshotRows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "snapshot_rows_total",
		Help:      "Total number of per-tick snapshot rows materialized (including gap fills)",
	})

	m.deriveLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "derive_latency_milliseconds",
		Help:      "Histogram of per-entity feature derivation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.derivedRows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "derived_rows_total",
		Help:      "Total number of derived feature rows produced",
	})

	m.deriveErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "derive_errors_total",
		Help:      "Total number of feature derivation failures",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of sealed entities awaiting derivation",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the derivation queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Derivation queue utilization (size / capacity)",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueues_total",
		Help:      "Total number of sealed entities enqueued for derivation",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeues_total",
		Help:      "Total number of sealed entities handed to workers",
	})

	m.queueEnqueueErrs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of failed enqueue attempts",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Current number of derivation workers",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Histogram of end-to-end worker processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.tablesExported = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tables_exported_total",
		Help:      "Total number of entity-class tables handed to sinks",
	})

	m.rowsExported = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_exported_total",
		Help:      "Total number of table rows handed to sinks",
	})
}

// Handler returns an http.Handler serving the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(globalManager.gatherer, promhttp.HandlerOpts{})
}

// GetManager returns the global metrics manager.
func GetManager() *Manager {
	return globalManager
}

// Package-level helpers operating on the global manager.

func RecordIngested() {
	if globalManager.enabled {
		globalManager.recordsIngested.Inc()
	}
}

func RecordDropped() {
	if globalManager.enabled {
		globalManager.recordsDropped.Inc()
	}
}

func RecordTickObserved() {
	if globalManager.enabled {
		globalManager.ticksObserved.Inc()
	}
}

func RecordRecoveredError(kind string) {
	if globalManager.enabled {
		globalManager.recoveredErrors.WithLabelValues(kind).Inc()
	}
}

func UpdateLiveEntities(count int) {
	if globalManager.enabled {
		globalManager.liveEntities.Set(float64(count))
	}
}

func RecordEntitySealed() {
	if globalManager.enabled {
		globalManager.entitiesSealed.Inc()
	}
}

func RecordSlotReuse() {
	if globalManager.enabled {
		globalManager.slotReuses.Inc()
	}
}

func RecordSeriesFinalized(snapshotCount int) {
	if globalManager.enabled {
		globalManager.seriesFinalized.Inc()
		globalManager.snapshotRows.Add(float64(snapshotCount))
	}
}

func RecordDeriveLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.deriveLatency.Observe(latencyMs)
	}
}

func RecordDerivedRows(count int) {
	if globalManager.enabled {
		globalManager.derivedRows.Add(float64(count))
	}
}

func RecordDeriveError() {
	if globalManager.enabled {
		globalManager.deriveErrors.Inc()
	}
}

func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

func UpdateQueueUtilization(utilization float64) {
	if globalManager.enabled {
		globalManager.queueUtilization.Set(utilization)
	}
}

func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueues.Inc()
	}
}

func RecordQueueDequeue() {
	if globalManager.enabled {
		globalManager.queueDequeues.Inc()
	}
}

func RecordQueueEnqueueError() {
	if globalManager.enabled {
		globalManager.queueEnqueueErrs.Inc()
	}
}

func UpdateWorkerCount(count int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(count))
	}
}

func RecordWorkerProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

func RecordTableExported(rowCount int) {
	if globalManager.enabled {
		globalManager.tablesExported.Inc()
		globalManager.rowsExported.Add(float64(rowCount))
	}
}
