package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/pkg/types"
)

const (
	// DefaultBatchSize is the flush size for categories without an override
	DefaultBatchSize = 100

	// DefaultBatchTimeout is the maximum age of a pending batch
	DefaultBatchTimeout = 5 * time.Second

	// DefaultFlushInterval is how often the background ticker checks for stale batches
	DefaultFlushInterval = 1 * time.Second

	// DefaultBatchWriteTimeout bounds a single bulk write
	DefaultBatchWriteTimeout = 10 * time.Second
)

// BatchThreshold holds the flush triggers of a category
type BatchThreshold struct {
	Size    int           `yaml:"size"`
	Timeout time.Duration `yaml:"timeout"`
}

// BatchConfig holds batch flush thresholds
type BatchConfig struct {
	Default       BatchThreshold                    `yaml:"default"`
	PerCategory   map[types.Category]BatchThreshold `yaml:"categories"`
	FlushInterval time.Duration                     `yaml:"flush_interval"`
	WriteTimeout  time.Duration                     `yaml:"write_timeout"`
}

// DefaultBatchConfig returns thresholds where time-sensitive categories
// flush sooner than generic traffic
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Default: BatchThreshold{Size: DefaultBatchSize, Timeout: DefaultBatchTimeout},
		PerCategory: map[types.Category]BatchThreshold{
			types.CategoryAuthentication: {Size: 10, Timeout: 1 * time.Second},
			types.CategoryAuthorization:  {Size: 25, Timeout: 2 * time.Second},
			types.CategoryDataAccess:     {Size: 200, Timeout: 10 * time.Second},
			types.CategoryAPIAccess:      {Size: 500, Timeout: 10 * time.Second},
		},
		FlushInterval: DefaultFlushInterval,
		WriteTimeout:  DefaultBatchWriteTimeout,
	}
}

// Threshold returns the flush triggers for a category
func (c BatchConfig) Threshold(category types.Category) BatchThreshold {
	t, ok := c.PerCategory[category]
	if !ok {
		t = c.Default
	}
	if t.Size <= 0 {
		t.Size = c.Default.Size
	}
	if t.Size <= 0 {
		t.Size = DefaultBatchSize
	}
	if t.Timeout <= 0 {
		t.Timeout = c.Default.Timeout
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultBatchTimeout
	}
	return t
}

// BatchWriter performs a bulk write of events
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []*types.AuditEvent) error
}

// BatchAggregator accumulates events in a single shared queue and writes
// them in bulk once a category size or timeout threshold is reached.
//
// A failed bulk write is logged and the batch is discarded; it is never
// retried. Close must be called on shutdown to flush pending events.
type BatchAggregator struct {
	writer  BatchWriter
	logger  *zap.Logger
	metrics metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	cfg        BatchConfig
	queue      []*types.AuditEvent
	minTimeout time.Duration
	lastFlush  time.Time
	closed     bool

	// flushMu is acquired while mu is held so writes happen in swap order
	flushMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// BatchOption configures a BatchAggregator
type BatchOption func(*BatchAggregator)

// WithClock overrides the time source
func WithClock(now func() time.Time) BatchOption {
	return func(b *BatchAggregator) {
		b.now = now
	}
}

// NewBatchAggregator creates an aggregator writing to w
func NewBatchAggregator(w BatchWriter, cfg BatchConfig, logger *zap.Logger, m metrics.Metrics, opts ...BatchOption) *BatchAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	b := &BatchAggregator{
		writer:  w,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.lastFlush = b.now()
	return b
}

// Add appends an event. A pending batch older than the smallest timeout of
// its categories is flushed before the append; the size threshold of the
// event's category is evaluated after it.
func (b *BatchAggregator) Add(ctx context.Context, event *types.AuditEvent) {
	b.mu.Lock()

	if b.closed {
		timeout := b.writeTimeoutLocked()
		b.mu.Unlock()
		// Shutdown already flushed; write through
		b.write(ctx, []*types.AuditEvent{event}, timeout)
		return
	}

	now := b.now()
	if len(b.queue) > 0 && now.Sub(b.lastFlush) >= b.minTimeout {
		stale, timeout := b.swapLocked(now)
		b.flushMu.Lock()
		b.mu.Unlock()
		b.writeLocked(ctx, stale, timeout)

		b.mu.Lock()
		if b.closed {
			timeout = b.writeTimeoutLocked()
			b.mu.Unlock()
			b.write(ctx, []*types.AuditEvent{event}, timeout)
			return
		}
	}

	threshold := b.cfg.Threshold(event.Category)
	if len(b.queue) == 0 || threshold.Timeout < b.minTimeout {
		b.minTimeout = threshold.Timeout
	}
	b.queue = append(b.queue, event)

	if len(b.queue) < threshold.Size {
		b.metrics.UpdateBatchPending(len(b.queue))
		b.mu.Unlock()
		return
	}

	batch, timeout := b.swapLocked(b.now())
	b.flushMu.Lock()
	b.mu.Unlock()
	b.writeLocked(ctx, batch, timeout)
}

// Flush writes all pending events and returns how many were written
func (b *BatchAggregator) Flush(ctx context.Context) (int, error) {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.lastFlush = b.now()
		b.mu.Unlock()
		return 0, nil
	}
	batch, timeout := b.swapLocked(b.now())
	b.flushMu.Lock()
	b.mu.Unlock()

	if err := b.writeLocked(ctx, batch, timeout); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// FlushIfStale flushes the pending batch when it has outlived its timeout
func (b *BatchAggregator) FlushIfStale(ctx context.Context) {
	b.mu.Lock()
	now := b.now()
	if len(b.queue) == 0 || now.Sub(b.lastFlush) < b.minTimeout {
		b.mu.Unlock()
		return
	}
	batch, timeout := b.swapLocked(now)
	b.flushMu.Lock()
	b.mu.Unlock()
	b.writeLocked(ctx, batch, timeout)
}

// Start runs a background ticker that flushes stale batches without new
// traffic. It returns immediately.
func (b *BatchAggregator) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.mu.Lock()
		interval := b.cfg.FlushInterval
		b.mu.Unlock()
		if interval <= 0 {
			interval = DefaultFlushInterval
		}

		go func() {
			defer close(b.done)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-b.stop:
					return
				case <-ticker.C:
					b.FlushIfStale(ctx)
				}
			}
		}()
	})
}

// Pending returns the number of queued events
func (b *BatchAggregator) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// UpdateConfig replaces the thresholds; pending events are kept
func (b *BatchAggregator) UpdateConfig(cfg BatchConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cfg = cfg
	b.minTimeout = 0
	for i, e := range b.queue {
		t := b.cfg.Threshold(e.Category).Timeout
		if i == 0 || t < b.minTimeout {
			b.minTimeout = t
		}
	}
}

// Close stops the ticker and flushes pending events exactly once. Events
// added afterwards are written directly.
func (b *BatchAggregator) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		var batch []*types.AuditEvent
		timeout := b.writeTimeoutLocked()
		if len(b.queue) > 0 {
			batch, timeout = b.swapLocked(b.now())
		}
		b.flushMu.Lock()
		b.mu.Unlock()

		close(b.stop)

		if len(batch) > 0 {
			b.logger.Info("Flushing audit batch on shutdown", zap.Int("events", len(batch)))
			b.closeErr = b.writeLocked(ctx, batch, timeout)
		} else {
			b.flushMu.Unlock()
		}
	})

	// Wait for the ticker goroutine if it was started
	started := true
	b.startOnce.Do(func() {
		started = false
		close(b.done)
	})
	if started {
		<-b.done
	}

	return b.closeErr
}

// swapLocked replaces the queue with an empty one and returns the pending
// events with the write timeout to apply. Caller holds mu.
func (b *BatchAggregator) swapLocked(now time.Time) ([]*types.AuditEvent, time.Duration) {
	batch := b.queue
	b.queue = make([]*types.AuditEvent, 0, len(batch))
	b.minTimeout = 0
	b.lastFlush = now
	b.metrics.UpdateBatchPending(0)
	return batch, b.writeTimeoutLocked()
}

// writeTimeoutLocked returns the bulk write timeout. Caller holds mu.
func (b *BatchAggregator) writeTimeoutLocked() time.Duration {
	if b.cfg.WriteTimeout > 0 {
		return b.cfg.WriteTimeout
	}
	return DefaultBatchWriteTimeout
}

// writeLocked performs the bulk write and releases flushMu
func (b *BatchAggregator) writeLocked(ctx context.Context, batch []*types.AuditEvent, timeout time.Duration) error {
	defer b.flushMu.Unlock()
	return b.write(ctx, batch, timeout)
}

// write must not acquire mu; callers may hold flushMu
func (b *BatchAggregator) write(ctx context.Context, batch []*types.AuditEvent, timeout time.Duration) error {
	if len(batch) == 0 {
		return nil
	}

	// Detach from the caller's cancellation; the events belong to many callers
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	if err := b.writer.WriteBatch(wctx, batch); err != nil {
		b.logger.Error("Audit batch dropped",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
		return err
	}

	duration := time.Since(start)
	b.metrics.RecordFlush(len(batch), duration)
	b.logger.Debug("Flushed audit batch",
		zap.Int("events", len(batch)),
		zap.Duration("duration", duration),
	)
	return nil
}
