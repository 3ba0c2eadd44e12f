package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/cache"
	"github.com/glueful/audit-engine/internal/cel"
	"github.com/glueful/audit-engine/internal/metrics"
	"github.com/glueful/audit-engine/pkg/types"
)

// Drop reasons reported to metrics
const (
	DropMinSeverity   = "min_severity"
	DropSkipPath      = "skip_path"
	DropSkipUserAgent = "skip_user_agent"
	DropSuppressRule  = "suppress_rule"
)

// DefaultEnqueueTimeout bounds a single async hand-off
const DefaultEnqueueTimeout = time.Second

// EventQueue is the async hand-off target
type EventQueue interface {
	QueueHealth
	Enqueue(ctx context.Context, payload []byte) error
}

// Settings holds the reloadable runtime configuration of the service
type Settings struct {
	Routing         RoutingTable
	AsyncEnabled    bool
	BatchingEnabled bool
	HealthTimeout   time.Duration
	EnqueueTimeout  time.Duration

	Batch    BatchConfig
	Delivery DeliveryPolicy

	MinSeverity    types.Severity
	SkipPaths      []string
	SkipUserAgents []string
	SuppressRules  []string
}

// DefaultSettings returns batching-enabled, async-disabled settings
func DefaultSettings() Settings {
	return Settings{
		Routing:         DefaultRoutingTable(),
		BatchingEnabled: true,
		HealthTimeout:   250 * time.Millisecond,
		EnqueueTimeout:  DefaultEnqueueTimeout,
		Batch:           DefaultBatchConfig(),
		Delivery:        DefaultDeliveryPolicy(),
	}
}

// Deps holds the collaborators of the service
type Deps struct {
	Store    Store
	Sinks    []Sink
	Queue    EventQueue
	Cache    cache.Cache
	Archiver Archiver
	CEL      *cel.Engine
	Logger   *zap.Logger
	Metrics  metrics.Metrics
	Now      func() time.Time
}

type serviceState struct {
	settings Settings
	routing  *RoutingPolicy
	rules    *SuppressionRules
}

// Service is the audit pipeline. It is constructed once by the
// application and closed on shutdown so pending batches are flushed.
type Service struct {
	store     Store
	deliverer *Deliverer
	batch     *BatchAggregator
	queue     EventQueue
	cache     cache.Cache
	archiver  Archiver
	celEngine *cel.Engine
	logger    *zap.Logger
	metrics   metrics.Metrics
	now       func() time.Time

	state atomic.Pointer[serviceState]

	closeOnce sync.Once
	closeErr  error
}

// NewService wires the pipeline
func NewService(settings Settings, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CEL == nil {
		engine, err := cel.NewEngine()
		if err != nil {
			return nil, err
		}
		deps.CEL = engine
	}

	s := &Service{
		store:     deps.Store,
		queue:     deps.Queue,
		cache:     deps.Cache,
		archiver:  deps.Archiver,
		celEngine: deps.CEL,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
	}

	s.deliverer = NewDeliverer(DelivererConfig{
		Store:   deps.Store,
		Sinks:   deps.Sinks,
		Cache:   deps.Cache,
		Policy:  settings.Delivery,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Now:     deps.Now,
	})
	s.batch = NewBatchAggregator(s.deliverer, settings.Batch, deps.Logger, deps.Metrics, WithClock(deps.Now))

	st, err := s.buildState(settings)
	if err != nil {
		return nil, err
	}
	s.state.Store(st)

	return s, nil
}

func (s *Service) buildState(settings Settings) (*serviceState, error) {
	if settings.MinSeverity != "" && !settings.MinSeverity.Valid() {
		return nil, invalidArgument("unknown min severity %q", settings.MinSeverity)
	}

	rules, err := NewSuppressionRules(s.celEngine, settings.SuppressRules)
	if err != nil {
		return nil, err
	}

	var health QueueHealth
	if s.queue != nil {
		health = s.queue
	}

	return &serviceState{
		settings: settings,
		rules:    rules,
		routing: &RoutingPolicy{
			Table:           settings.Routing,
			AsyncEnabled:    settings.AsyncEnabled && s.queue != nil,
			BatchingEnabled: settings.BatchingEnabled,
			HealthTimeout:   settings.HealthTimeout,
			Queue:           health,
		},
	}, nil
}

// Start launches the background batch flusher
func (s *Service) Start(ctx context.Context) {
	s.batch.Start(ctx)
}

// ApplySettings replaces the runtime configuration. Invalid settings are
// rejected and the previous ones stay active.
func (s *Service) ApplySettings(settings Settings) error {
	st, err := s.buildState(settings)
	if err != nil {
		return err
	}

	s.deliverer.UpdatePolicy(settings.Delivery)
	s.batch.UpdateConfig(settings.Batch)
	s.state.Store(st)

	s.logger.Info("Audit settings applied",
		zap.Bool("async", st.routing.AsyncEnabled),
		zap.Bool("batching", settings.BatchingEnabled),
		zap.String("min_severity", string(settings.MinSeverity)),
		zap.Int("suppress_rules", st.rules.Len()),
	)
	return nil
}

// Settings returns the active runtime configuration
func (s *Service) Settings() Settings {
	return s.state.Load().settings
}

// Audit records an event and returns its id. It returns "" when the event
// is dropped by noise suppression and a "suppressed-" placeholder when
// called from inside an audit write.
func (s *Service) Audit(ctx context.Context, category types.Category, action string, severity types.Severity, details map[string]interface{}) string {
	return s.submit(ctx, category, action, severity, details, nil)
}

// Record submits an event built by the caller
func (s *Service) Record(ctx context.Context, event *types.AuditEvent) string {
	if event == nil {
		return ""
	}
	if InAuditCall(ctx) {
		return s.suppressRecursion(event.Category, event.Action)
	}

	st := s.state.Load()
	if reason := s.dropReason(ctx, st, event.Severity); reason != "" {
		s.metrics.RecordDropped(reason)
		return ""
	}
	if s.suppressedByRule(ctx, st, event) {
		return ""
	}
	return s.dispatch(ctx, st, event)
}

// AuthEvent records an authentication event
func (s *Service) AuthEvent(ctx context.Context, action, actorID string, details map[string]interface{}, severity types.Severity) string {
	return s.submit(ctx, types.CategoryAuthentication, action, severity, details, func(e *types.AuditEvent) {
		if actorID != "" {
			e.SetActor(actorID)
		}
	})
}

// AuthzEvent records an authorization decision on a resource
func (s *Service) AuthzEvent(ctx context.Context, action, actorID, resourceID, resourceType string, details map[string]interface{}, severity types.Severity) string {
	return s.submit(ctx, types.CategoryAuthorization, action, severity, details, func(e *types.AuditEvent) {
		if actorID != "" {
			e.SetActor(actorID)
		}
		if resourceID != "" || resourceType != "" {
			e.SetTarget(resourceID, resourceType)
		}
	})
}

// DataEvent records access to a data object
func (s *Service) DataEvent(ctx context.Context, action, actorID, dataID, dataType string, details map[string]interface{}, severity types.Severity) string {
	return s.submit(ctx, types.CategoryDataAccess, action, severity, details, func(e *types.AuditEvent) {
		if actorID != "" {
			e.SetActor(actorID)
		}
		if dataID != "" || dataType != "" {
			e.SetTarget(dataID, dataType)
		}
	})
}

// AdminEvent records an administrative action
func (s *Service) AdminEvent(ctx context.Context, action, actorID string, details map[string]interface{}, severity types.Severity) string {
	return s.submit(ctx, types.CategoryAdministrative, action, severity, details, func(e *types.AuditEvent) {
		if actorID != "" {
			e.SetActor(actorID)
		}
	})
}

// ConfigEvent records a configuration change
func (s *Service) ConfigEvent(ctx context.Context, action, actorID, configKey string, details map[string]interface{}, severity types.Severity) string {
	return s.submit(ctx, types.CategoryConfiguration, action, severity, details, func(e *types.AuditEvent) {
		if actorID != "" {
			e.SetActor(actorID)
		}
		if configKey != "" {
			e.SetTarget(configKey, "config")
		}
	})
}

func (s *Service) submit(ctx context.Context, category types.Category, action string, severity types.Severity, details map[string]interface{}, enrich func(*types.AuditEvent)) string {
	if InAuditCall(ctx) {
		return s.suppressRecursion(category, action)
	}

	if !severity.Valid() {
		s.logger.Warn("Unknown audit severity, recording as info",
			zap.String("severity", string(severity)),
			zap.String("action", action),
		)
		severity = types.SeverityInfo
	}

	st := s.state.Load()
	if reason := s.dropReason(ctx, st, severity); reason != "" {
		s.metrics.RecordDropped(reason)
		return ""
	}

	event := types.NewAuditEvent(ctx, category, action, severity, details)
	if enrich != nil {
		enrich(event)
	}

	if s.suppressedByRule(ctx, st, event) {
		return ""
	}
	return s.dispatch(ctx, st, event)
}

func (s *Service) suppressRecursion(category types.Category, action string) string {
	id := placeholderID()
	s.metrics.RecordRecursion()
	s.logger.Warn("Recursive audit call suppressed",
		zap.String("category", string(category)),
		zap.String("action", action),
		zap.String("placeholder_id", id),
	)
	return id
}

// dropReason applies the severity floor and the request skip lists
func (s *Service) dropReason(ctx context.Context, st *serviceState, severity types.Severity) string {
	if min := st.settings.MinSeverity; min != "" && !severity.AtLeast(min) {
		return DropMinSeverity
	}

	info, ok := types.RequestInfoFromContext(ctx)
	if !ok {
		return ""
	}
	for _, prefix := range st.settings.SkipPaths {
		if prefix != "" && strings.HasPrefix(info.Path, prefix) {
			return DropSkipPath
		}
	}
	ua := strings.ToLower(info.UserAgent)
	for _, agent := range st.settings.SkipUserAgents {
		if agent != "" && strings.Contains(ua, strings.ToLower(agent)) {
			return DropSkipUserAgent
		}
	}
	return ""
}

// suppressedByRule evaluates the CEL rules; critical events are exempt
func (s *Service) suppressedByRule(ctx context.Context, st *serviceState, event *types.AuditEvent) bool {
	if st.rules.Len() == 0 || st.settings.Routing.IsCritical(event.Category, event.Severity) {
		return false
	}

	info, _ := types.RequestInfoFromContext(ctx)
	rule, ok := st.rules.Match(event, info)
	if !ok {
		return false
	}

	s.metrics.RecordDropped(DropSuppressRule)
	s.logger.Debug("Audit event suppressed by rule",
		zap.String("event_id", event.EventID),
		zap.String("rule", rule),
	)
	return true
}

func (s *Service) dispatch(ctx context.Context, st *serviceState, event *types.AuditEvent) string {
	route := st.routing.Decide(ctx, event.Category, event.Severity)

	switch route {
	case RouteAsync:
		if err := s.enqueue(ctx, st, event); err != nil {
			s.metrics.RecordQueueFallback()
			s.logger.Warn("Async audit hand-off failed, storing synchronously",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			route = RouteSync
			s.deliverer.Store(ctx, event)
		}
	case RouteBatched:
		s.batch.Add(withGuard(ctx), event)
	default:
		s.deliverer.Store(ctx, event)
	}

	s.metrics.RecordEvent(string(event.Category), route.String())
	return event.EventID
}

func (s *Service) enqueue(ctx context.Context, st *serviceState, event *types.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return queueUnavailable(fmt.Errorf("marshal event: %w", err))
	}

	qctx, cancel := context.WithTimeout(withGuard(ctx), timeoutOr(st.settings.EnqueueTimeout, DefaultEnqueueTimeout))
	defer cancel()

	if err := s.queue.Enqueue(qctx, payload); err != nil {
		return queueUnavailable(err)
	}
	return nil
}

// Deliverer exposes the delivery layer, used by the async worker
func (s *Service) Deliverer() *Deliverer {
	return s.deliverer
}

// PendingBatch returns the number of events waiting for a batch flush
func (s *Service) PendingBatch() int {
	return s.batch.Pending()
}

// HealthStatus summarizes the state of the pipeline dependencies
type HealthStatus struct {
	Store        string `json:"store"`
	Queue        string `json:"queue,omitempty"`
	Cache        string `json:"cache,omitempty"`
	PendingBatch int    `json:"pending_batch"`
}

// Healthy reports whether the store is reachable
func (h HealthStatus) Healthy() bool {
	return h.Store == "ok"
}

// Health probes the store and, when present, the queue and report cache
func (s *Service) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Store: "ok", PendingBatch: s.batch.Pending()}

	if _, _, err := s.store.Search(ctx, &Query{Limit: 1}); err != nil {
		status.Store = err.Error()
	}
	if s.queue != nil {
		status.Queue = "ok"
		if err := s.queue.Healthy(ctx); err != nil {
			status.Queue = err.Error()
		}
	}
	// Informational; reports fall back to the store
	if p, ok := s.cache.(cache.Pinger); ok {
		status.Cache = "ok"
		if err := p.Ping(ctx); err != nil {
			status.Cache = err.Error()
		}
	}
	return status
}

// Close flushes pending batches exactly once and closes the sinks. Events
// recorded afterwards are written directly.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = multierr.Combine(
			s.batch.Close(ctx),
			s.deliverer.Close(),
		)
	})
	return s.closeErr
}
