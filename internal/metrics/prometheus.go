package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a private Prometheus registry
type PrometheusMetrics struct {
	eventsTotal         *prometheus.CounterVec
	droppedTotal        *prometheus.CounterVec
	deliveryFailures    *prometheus.CounterVec
	queueFallbacks      prometheus.Counter
	recursionSuppressed prometheus.Counter
	integrityViolations prometheus.Counter

	flushesTotal  prometheus.Counter
	flushSize     prometheus.Histogram
	flushDuration prometheus.Histogram
	batchPending  prometheus.Gauge

	reportsTotal *prometheus.CounterVec
	purgedTotal  prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of audit events accepted by category and route",
		},
		[]string{"category", "route"},
	)

	droppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of audit events dropped before delivery by reason",
		},
		[]string{"reason"},
	)

	deliveryFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of failed deliveries by sink",
		},
		[]string{"sink"},
	)

	queueFallbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "fallbacks_total",
			Help:      "Total number of async hand-offs that fell back to synchronous persistence",
		},
	)

	recursionSuppressed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recursion_suppressed_total",
			Help:      "Total number of recursive audit calls short-circuited",
		},
	)

	integrityViolations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Total number of events that failed integrity verification",
		},
	)

	flushesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Total number of batch flushes",
		},
	)

	flushSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "flush_size",
			Help:      "Number of events written per batch flush",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Bulk writes: 1ms to 5s
	flushDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "flush_duration_seconds",
			Help:      "Batch flush latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
	)

	batchPending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "pending",
			Help:      "Number of events waiting in the batch queue",
		},
	)

	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Total number of compliance reports generated by type",
		},
		[]string{"type"},
	)

	purgedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "purged_total",
			Help:      "Total number of records purged by retention enforcement",
		},
	)

	registry.MustRegister(
		eventsTotal,
		droppedTotal,
		deliveryFailures,
		queueFallbacks,
		recursionSuppressed,
		integrityViolations,
		flushesTotal,
		flushSize,
		flushDuration,
		batchPending,
		reportsTotal,
		purgedTotal,
	)

	return &PrometheusMetrics{
		eventsTotal:         eventsTotal,
		droppedTotal:        droppedTotal,
		deliveryFailures:    deliveryFailures,
		queueFallbacks:      queueFallbacks,
		recursionSuppressed: recursionSuppressed,
		integrityViolations: integrityViolations,
		flushesTotal:        flushesTotal,
		flushSize:           flushSize,
		flushDuration:       flushDuration,
		batchPending:        batchPending,
		reportsTotal:        reportsTotal,
		purgedTotal:         purgedTotal,
		registry:            registry,
	}
}

// RecordEvent counts an accepted event
func (m *PrometheusMetrics) RecordEvent(category, route string) {
	m.eventsTotal.WithLabelValues(category, route).Inc()
}

// RecordDropped counts an event dropped before delivery
func (m *PrometheusMetrics) RecordDropped(reason string) {
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordDeliveryFailure counts a failed write to a store or sink
func (m *PrometheusMetrics) RecordDeliveryFailure(sink string) {
	m.deliveryFailures.WithLabelValues(sink).Inc()
}

// RecordQueueFallback counts an async hand-off that fell back to sync
func (m *PrometheusMetrics) RecordQueueFallback() {
	m.queueFallbacks.Inc()
}

// RecordRecursion counts a suppressed recursive audit call
func (m *PrometheusMetrics) RecordRecursion() {
	m.recursionSuppressed.Inc()
}

// RecordIntegrityViolation counts an event that failed verification
func (m *PrometheusMetrics) RecordIntegrityViolation() {
	m.integrityViolations.Inc()
}

// RecordFlush records a batch flush
func (m *PrometheusMetrics) RecordFlush(size int, duration time.Duration) {
	m.flushesTotal.Inc()
	m.flushSize.Observe(float64(size))
	m.flushDuration.Observe(duration.Seconds())
}

// UpdateBatchPending sets the number of queued batch events
func (m *PrometheusMetrics) UpdateBatchPending(count int) {
	m.batchPending.Set(float64(count))
}

// RecordReport counts a generated compliance report
func (m *PrometheusMetrics) RecordReport(reportType string) {
	m.reportsTotal.WithLabelValues(reportType).Inc()
}

// RecordPurged adds purged records to the retention counter
func (m *PrometheusMetrics) RecordPurged(count int64) {
	m.purgedTotal.Add(float64(count))
}

// HTTPHandler returns the scrape handler for the private registry
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}
