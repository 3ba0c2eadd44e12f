package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/pkg/types"
)

// memStore is an in-memory Store with failure injection
type memStore struct {
	mu        sync.Mutex
	recs      []*Record
	err       error
	batches   int
	guarded   bool
	lastQuery *Query
}

func (s *memStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guarded = InAuditCall(ctx)
	if s.err != nil {
		return s.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memStore) InsertBatch(ctx context.Context, recs []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guarded = InAuditCall(ctx)
	if s.err != nil {
		return s.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.batches++
	s.recs = append(s.recs, recs...)
	return nil
}

func (s *memStore) Search(ctx context.Context, q *Query) ([]*Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	if s.err != nil {
		return nil, 0, s.err
	}
	out := append([]*Record{}, s.recs...)
	return out, len(out), nil
}

func (s *memStore) DeleteExpired(ctx context.Context, before time.Time, skipImmutable bool) (int64, error) {
	return 0, s.err
}

func (s *memStore) Close() error { return nil }

func (s *memStore) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record{}, s.recs...)
}

// recordingSink captures records and optionally fails
type recordingSink struct {
	name    string
	mu      sync.Mutex
	recs    []*Record
	err     error
	block   bool
	onWrite func(ctx context.Context)
	closed  bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, rec *Record) error {
	if s.onWrite != nil {
		s.onWrite(ctx)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record{}, s.recs...)
}

// stubQueue is an in-memory EventQueue and EventSource
type stubQueue struct {
	mu         sync.Mutex
	payloads   [][]byte
	healthErr  error
	enqueueErr error
}

func (q *stubQueue) Healthy(ctx context.Context) error { return q.healthErr }

func (q *stubQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *stubQueue) Dequeue(ctx context.Context) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.payloads) == 0 {
		return nil, nil
	}
	p := q.payloads[0]
	q.payloads = q.payloads[1:]
	return p, nil
}

func (q *stubQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads)
}

// countingMetrics records the counters the tests assert on
type countingMetrics struct {
	metrics.NoOpMetrics

	mu         sync.Mutex
	events     map[string]int
	dropped    map[string]int
	failures   map[string]int
	fallbacks  int
	recursion  int
	violations int
	purged     int64
	reports    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		events:   map[string]int{},
		dropped:  map[string]int{},
		failures: map[string]int{},
	}
}

func (m *countingMetrics) RecordEvent(category, route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[category+"/"+route]++
}

func (m *countingMetrics) RecordDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *countingMetrics) RecordDeliveryFailure(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[sink]++
}

func (m *countingMetrics) RecordQueueFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *countingMetrics) RecordRecursion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recursion++
}

func (m *countingMetrics) RecordIntegrityViolation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations++
}

func (m *countingMetrics) RecordPurged(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged += n
}

func (m *countingMetrics) RecordReport(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports++
}

func (m *countingMetrics) Count(field string, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch field {
	case "events":
		return m.events[key]
	case "dropped":
		return m.dropped[key]
	case "failures":
		return m.failures[key]
	case "fallbacks":
		return m.fallbacks
	case "recursion":
		return m.recursion
	case "violations":
		return m.violations
	case "reports":
		return m.reports
	}
	return 0
}

var errBoom = errors.New("boom")

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// eventAt builds an event with a fixed timestamp
func eventAt(category types.Category, action string, ts time.Time) *types.AuditEvent {
	e := newEvent(category, action)
	e.Timestamp = ts.UTC().Truncate(time.Microsecond)
	e.IntegrityHash = e.ComputeHash()
	return e
}

func recordOf(e *types.AuditEvent, retention time.Time, immutable bool) *Record {
	return &Record{Event: e, RetentionDate: retention.UTC().Truncate(time.Microsecond), Immutable: immutable}
}
