package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/pkg/types"
)

const (
	// DefaultRetentionDays applies to categories without an explicit policy
	DefaultRetentionDays = 365

	// DefaultSinkTimeout bounds a single secondary-sink write
	DefaultSinkTimeout = 5 * time.Second

	// DefaultStoreTimeout bounds a single store write
	DefaultStoreTimeout = 10 * time.Second

	// storeSinkName labels the primary store in logs and metrics
	storeSinkName = "store"
)

// RetentionPolicy maps categories to retention periods in days
type RetentionPolicy struct {
	DefaultDays int                    `yaml:"default_days"`
	Categories  map[types.Category]int `yaml:"categories"`
}

// DefaultRetentionPolicy returns the built-in retention table
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		DefaultDays: DefaultRetentionDays,
		Categories: map[types.Category]int{
			types.CategoryAuthentication: 730,
			types.CategoryAuthorization:  730,
			types.CategoryAdministrative: 2555,
			types.CategoryConfiguration:  2555,
			types.CategoryDataAccess:     1095,
			types.CategorySystem:         90,
			types.CategoryResourceAccess: 180,
			types.CategoryAPIAccess:      30,
		},
	}
}

// Days returns the retention period of a category
func (p RetentionPolicy) Days(category types.Category) int {
	if d, ok := p.Categories[category]; ok && d > 0 {
		return d
	}
	if p.DefaultDays > 0 {
		return p.DefaultDays
	}
	return DefaultRetentionDays
}

// ExpiresAt returns the retention date for a record persisted at now
func (p RetentionPolicy) ExpiresAt(category types.Category, now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, p.Days(category)).Truncate(time.Microsecond)
}

// DeliveryPolicy holds the reloadable persistence settings
type DeliveryPolicy struct {
	Retention           RetentionPolicy
	ImmutableStorage    bool
	ImmutableCategories []types.Category
	SinkTimeout         time.Duration
	StoreTimeout        time.Duration
}

// DefaultDeliveryPolicy returns the built-in persistence settings
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		Retention: DefaultRetentionPolicy(),
		ImmutableCategories: []types.Category{
			types.CategoryAuthentication,
			types.CategoryAuthorization,
			types.CategoryAdministrative,
			types.CategoryConfiguration,
		},
		SinkTimeout:  DefaultSinkTimeout,
		StoreTimeout: DefaultStoreTimeout,
	}
}

// IsImmutable reports whether records of the category are flagged immutable
func (p DeliveryPolicy) IsImmutable(category types.Category) bool {
	if !p.ImmutableStorage {
		return false
	}
	for _, c := range p.ImmutableCategories {
		if c == category {
			return true
		}
	}
	return false
}

// DelivererConfig holds the collaborators of a Deliverer
type DelivererConfig struct {
	Store   Store
	Sinks   []Sink
	Cache   cache.Cache
	Policy  DeliveryPolicy
	Logger  *zap.Logger
	Metrics metrics.Metrics
	Now     func() time.Time
}

// Deliverer persists events to the store and fans them out to secondary
// sinks. Failures are logged and counted; they never reach the caller.
type Deliverer struct {
	store   Store
	sinks   []Sink
	cache   cache.Cache
	logger  *zap.Logger
	metrics metrics.Metrics
	now     func() time.Time

	policy atomic.Pointer[DeliveryPolicy]

	// generations counts report-cache invalidations per category
	generations sync.Map
}

// NewDeliverer creates a delivery layer
func NewDeliverer(cfg DelivererConfig) *Deliverer {
	d := &Deliverer{
		store:   cfg.Store,
		sinks:   cfg.Sinks,
		cache:   cfg.Cache,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.metrics == nil {
		d.metrics = metrics.NewNoOpMetrics()
	}
	if d.now == nil {
		d.now = time.Now
	}

	policy := cfg.Policy
	d.policy.Store(&policy)
	return d
}

// Policy returns the active delivery policy
func (d *Deliverer) Policy() DeliveryPolicy {
	return *d.policy.Load()
}

// UpdatePolicy replaces the delivery policy for subsequent writes
func (d *Deliverer) UpdatePolicy(p DeliveryPolicy) {
	d.policy.Store(&p)
}

// NewRecord derives the persisted record of an event
func (d *Deliverer) NewRecord(event *types.AuditEvent) *Record {
	p := d.policy.Load()
	return &Record{
		Event:         event,
		RetentionDate: p.Retention.ExpiresAt(event.Category, d.now()),
		Immutable:     p.IsImmutable(event.Category),
	}
}

// Store persists a single event and reports whether it reached at least
// one destination. The write outlives cancellation of ctx; only the store
// and sink timeouts bound it.
func (d *Deliverer) Store(ctx context.Context, event *types.AuditEvent) bool {
	ctx = withGuard(context.WithoutCancel(ctx))
	p := d.policy.Load()
	rec := d.NewRecord(event)

	stored := true
	sctx, cancel := context.WithTimeout(ctx, timeoutOr(p.StoreTimeout, DefaultStoreTimeout))
	err := d.store.Insert(sctx, rec)
	cancel()
	if err != nil {
		stored = false
		d.metrics.RecordDeliveryFailure(storeSinkName)
		d.logger.Error("Failed to store audit event",
			zap.String("event_id", event.EventID),
			zap.String("category", string(event.Category)),
			zap.Error(deliveryFailed(storeSinkName, err)),
		)
	} else {
		d.invalidate(ctx, event.Category)
	}

	delivered := d.fanOut(ctx, rec, p.SinkTimeout)
	if !stored && delivered > 0 {
		d.logger.Warn("Audit event persisted to secondary sinks only",
			zap.String("event_id", event.EventID),
			zap.Int("sinks", delivered),
		)
	}

	return stored || delivered > 0
}

// WriteBatch persists events in one store transaction, then fans each
// record out to the sinks
func (d *Deliverer) WriteBatch(ctx context.Context, events []*types.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx = withGuard(context.WithoutCancel(ctx))
	p := d.policy.Load()

	recs := make([]*Record, len(events))
	categories := make(map[types.Category]struct{})
	for i, e := range events {
		recs[i] = d.NewRecord(e)
		categories[e.Category] = struct{}{}
	}

	var storeErr error
	sctx, cancel := context.WithTimeout(ctx, timeoutOr(p.StoreTimeout, DefaultStoreTimeout))
	if err := d.store.InsertBatch(sctx, recs); err != nil {
		storeErr = deliveryFailed(storeSinkName, err)
		d.metrics.RecordDeliveryFailure(storeSinkName)
		d.logger.Error("Failed to store audit batch",
			zap.Int("events", len(recs)),
			zap.Error(storeErr),
		)
	}
	cancel()

	if storeErr == nil {
		for c := range categories {
			d.invalidate(ctx, c)
		}
	}

	for _, rec := range recs {
		d.fanOut(ctx, rec, p.SinkTimeout)
	}

	return storeErr
}

// fanOut writes the record to every sink under its own timeout and returns
// how many sinks accepted it
func (d *Deliverer) fanOut(ctx context.Context, rec *Record, timeout time.Duration) int {
	delivered := 0
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, timeoutOr(timeout, DefaultSinkTimeout))
		err := sink.Write(sctx, rec)
		cancel()

		if err != nil {
			d.metrics.RecordDeliveryFailure(sink.Name())
			d.logger.Error("Audit sink delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", rec.Event.EventID),
				zap.Error(deliveryFailed(sink.Name(), err)),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// invalidate drops cached reports of a category when the cache supports tags
func (d *Deliverer) invalidate(ctx context.Context, category types.Category) {
	// Bumped before the tag is dropped so a report walk that raced this
	// write sees the change after caching
	d.counter(category).Add(1)

	tc, ok := d.cache.(cache.TaggableCache)
	if !ok {
		return
	}
	if err := tc.InvalidateTags(ctx, CategoryTag(category)); err != nil {
		d.logger.Warn("Failed to invalidate report cache",
			zap.String("category", string(category)),
			zap.Error(err),
		)
	}
}

// Generation returns the invalidation count of a category's reports
func (d *Deliverer) Generation(category types.Category) uint64 {
	return d.counter(category).Load()
}

func (d *Deliverer) counter(category types.Category) *atomic.Uint64 {
	if c, ok := d.generations.Load(category); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := d.generations.LoadOrStore(category, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// Close closes every sink
func (d *Deliverer) Close() error {
	var err error
	for _, sink := range d.sinks {
		err = multierr.Append(err, sink.Close())
	}
	return err
}

// CategoryTag is the cache tag of reports built over a category
func CategoryTag(category types.Category) string {
	return "category:" + string(category)
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
