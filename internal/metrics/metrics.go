// Package metrics provides observability for the audit pipeline
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the audit pipeline
type Metrics interface {
	// Routing and intake
	RecordEvent(category, route string)
	RecordDropped(reason string)

	// Delivery
	RecordDeliveryFailure(sink string)
	RecordQueueFallback()
	RecordRecursion()
	RecordIntegrityViolation()

	// Batching
	RecordFlush(size int, duration time.Duration)
	UpdateBatchPending(count int)

	// Search, reporting and retention
	RecordReport(reportType string)
	RecordPurged(count int64)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordEvent(category, route string)           {}
func (n *NoOpMetrics) RecordDropped(reason string)                  {}
func (n *NoOpMetrics) RecordDeliveryFailure(sink string)            {}
func (n *NoOpMetrics) RecordQueueFallback()                         {}
func (n *NoOpMetrics) RecordRecursion()                             {}
func (n *NoOpMetrics) RecordIntegrityViolation()                    {}
func (n *NoOpMetrics) RecordFlush(size int, duration time.Duration) {}
func (n *NoOpMetrics) UpdateBatchPending(count int)                 {}
func (n *NoOpMetrics) RecordReport(reportType string)               {}
func (n *NoOpMetrics) RecordPurged(count int64)                     {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
