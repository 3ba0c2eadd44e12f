package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/pkg/types"
)

// DefaultWorkerBackoff is the pause after a failed dequeue
const DefaultWorkerBackoff = time.Second

// EventSource is the consumer side of the async queue. Dequeue blocks
// for at most its poll timeout and returns a nil payload when nothing
// arrived.
type EventSource interface {
	Dequeue(ctx context.Context) ([]byte, error)
}

// AsyncWorker drains the async queue into the delivery layer
type AsyncWorker struct {
	source    EventSource
	deliverer *Deliverer
	logger    *zap.Logger
	metrics   metrics.Metrics
	backoff   time.Duration

	wg sync.WaitGroup
}

// NewAsyncWorker creates a worker reading from source
func NewAsyncWorker(source EventSource, d *Deliverer, logger *zap.Logger, m metrics.Metrics) *AsyncWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &AsyncWorker{
		source:    source,
		deliverer: d,
		logger:    logger,
		metrics:   m,
		backoff:   DefaultWorkerBackoff,
	}
}

// Process decodes one queued payload, verifies it and stores it. Tampered
// or undecodable payloads are rejected. A dequeued payload is stored even
// when ctx is cancelled.
func (w *AsyncWorker) Process(ctx context.Context, payload []byte) error {
	ctx = context.WithoutCancel(ctx)

	var event types.AuditEvent
	if err := event.UnmarshalJSON(payload); err != nil {
		w.metrics.RecordDropped("undecodable")
		return invalidArgument("queued payload: %v", err)
	}

	if !event.VerifyIntegrity() {
		w.metrics.RecordIntegrityViolation()
		return integrityViolation(event.EventID)
	}

	if !w.deliverer.Store(ctx, &event) {
		return deliveryFailed("async", fmt.Errorf("event %s reached no destination", event.EventID))
	}
	return nil
}

// Run consumes until ctx is cancelled
func (w *AsyncWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := w.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Warn("Audit queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		if payload == nil {
			continue
		}

		if err := w.Process(ctx, payload); err != nil {
			w.logger.Error("Failed to process queued audit event", zap.Error(err))
		}
	}
}

// Start runs n consumers in the background
func (w *AsyncWorker) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Wait blocks until every consumer started by Start has returned
func (w *AsyncWorker) Wait() {
	w.wg.Wait()
}
