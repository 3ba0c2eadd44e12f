package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	return w.Body.String()
}

// TestNewPrometheusMetrics verifies constructor creates valid instance
func TestNewPrometheusMetrics(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{name: "Default namespace", namespace: "audit"},
		{name: "Custom namespace", namespace: "my_app"},
		{name: "Underscored namespace", namespace: "audit_engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPrometheusMetrics(tt.namespace)
			require.NotNil(t, m)

			body := scrape(t, m)
			assert.Contains(t, body, tt.namespace+"_")
		})
	}
}

// TestPrometheusMetrics_Independent verifies private registries do not collide
func TestPrometheusMetrics_Independent(t *testing.T) {
	a := NewPrometheusMetrics("audit_test")
	b := NewPrometheusMetrics("audit_test")

	a.RecordQueueFallback()

	assert.Contains(t, scrape(t, a), "audit_test_queue_fallbacks_total 1")
	assert.Contains(t, scrape(t, b), "audit_test_queue_fallbacks_total 0")
}

// TestPrometheusMetrics_CounterVec verifies labeled counters work correctly
func TestPrometheusMetrics_CounterVec(t *testing.T) {
	m := NewPrometheusMetrics("audit_test")

	m.RecordEvent("authentication", "sync")
	m.RecordEvent("authentication", "sync")
	m.RecordEvent("data_access", "async")
	m.RecordDropped("min_severity")
	m.RecordDeliveryFailure("webhook")
	m.RecordReport("authentication")

	body := scrape(t, m)

	assert.Contains(t, body, `audit_test_events_total{category="authentication",route="sync"} 2`)
	assert.Contains(t, body, `audit_test_events_total{category="data_access",route="async"} 1`)
	assert.Contains(t, body, `audit_test_events_dropped_total{reason="min_severity"} 1`)
	assert.Contains(t, body, `audit_test_deliveries_failed_total{sink="webhook"} 1`)
	assert.Contains(t, body, `audit_test_reports_total{type="authentication"} 1`)
}

// TestPrometheusMetrics_Counters verifies plain counters
func TestPrometheusMetrics_Counters(t *testing.T) {
	m := NewPrometheusMetrics("audit_test")

	m.RecordRecursion()
	m.RecordRecursion()
	m.RecordIntegrityViolation()
	m.RecordPurged(7)
	m.RecordPurged(3)

	body := scrape(t, m)

	assert.Contains(t, body, "audit_test_recursion_suppressed_total 2")
	assert.Contains(t, body, "audit_test_integrity_violations_total 1")
	assert.Contains(t, body, "audit_test_retention_purged_total 10")
}

// TestPrometheusMetrics_Batch verifies flush histograms and the pending gauge
func TestPrometheusMetrics_Batch(t *testing.T) {
	m := NewPrometheusMetrics("audit_test")

	m.RecordFlush(10, 2*time.Millisecond)
	m.RecordFlush(50, 20*time.Millisecond)
	m.UpdateBatchPending(4)

	body := scrape(t, m)

	assert.Contains(t, body, "audit_test_batch_flushes_total 2")
	assert.Contains(t, body, "audit_test_batch_flush_size_count 2")
	assert.Contains(t, body, "audit_test_batch_flush_size_sum 60")
	assert.Contains(t, body, "audit_test_batch_flush_duration_seconds_count 2")
	assert.Contains(t, body, "audit_test_batch_pending 4")

	m.UpdateBatchPending(0)
	assert.Contains(t, scrape(t, m), "audit_test_batch_pending 0")
}

// TestNoOpMetrics verifies the no-op implementation is safe to call
func TestNoOpMetrics(t *testing.T) {
	var m Metrics = NewNoOpMetrics()

	assert.NotPanics(t, func() {
		m.RecordEvent("system", "batched")
		m.RecordDropped("suppress_rule")
		m.RecordDeliveryFailure("file")
		m.RecordQueueFallback()
		m.RecordRecursion()
		m.RecordIntegrityViolation()
		m.RecordFlush(1, time.Millisecond)
		m.UpdateBatchPending(1)
		m.RecordReport("system")
		m.RecordPurged(1)
	})

	assert.Contains(t, scrape(t, m), "NoOp")
}

func TestPrometheusMetrics_Values(t *testing.T) {
	m := NewPrometheusMetrics("audit_test")

	m.RecordEvent("file", "batched")
	m.RecordEvent("file", "batched")
	m.RecordDropped("min_severity")
	m.RecordFlush(10, 5*time.Millisecond)
	m.RecordFlush(20, 7*time.Millisecond)
	m.UpdateBatchPending(3)
	m.RecordPurged(4)
	m.RecordPurged(6)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("file", "batched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("min_severity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.flushesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchPending))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.purgedTotal))

	count, err := testutil.GatherAndCount(m.Registry(), "audit_test_events_total", "audit_test_batch_flush_size")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
