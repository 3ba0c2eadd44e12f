package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/glueful/audit-engine/pkg/types"
)

// Route is the processing path selected for an event
type Route int

const (
	RouteSync Route = iota
	RouteBatched
	RouteAsync
)

func (r Route) String() string {
	switch r {
	case RouteSync:
		return "sync"
	case RouteBatched:
		return "batched"
	case RouteAsync:
		return "async"
	default:
		return "unknown"
	}
}

// CategoryClass is the routing classification of a category
type CategoryClass string

const (
	ClassCritical   CategoryClass = "critical"
	ClassHighVolume CategoryClass = "high_volume"
	ClassStandard   CategoryClass = "standard"
)

// ParseCategoryClass parses a class name
func ParseCategoryClass(s string) (CategoryClass, error) {
	switch c := CategoryClass(s); c {
	case ClassCritical, ClassHighVolume, ClassStandard:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category class %q", s)
	}
}

// RoutingTable is the single source of truth for category classes and
// critical severities. Categories not listed are standard.
type RoutingTable struct {
	Categories         map[types.Category]CategoryClass
	CriticalSeverities map[types.Severity]bool
}

// DefaultRoutingTable returns the built-in classification
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		Categories: map[types.Category]CategoryClass{
			types.CategoryAuthentication: ClassCritical,
			types.CategoryAuthorization:  ClassCritical,
			types.CategoryAdministrative: ClassCritical,
			types.CategoryConfiguration:  ClassCritical,
			types.CategoryDataAccess:     ClassHighVolume,
			types.CategoryFile:           ClassHighVolume,
			types.CategorySystem:         ClassHighVolume,
			types.CategoryResourceAccess: ClassHighVolume,
			types.CategoryAPIAccess:      ClassHighVolume,
		},
		CriticalSeverities: map[types.Severity]bool{
			types.SeverityError:     true,
			types.SeverityCritical:  true,
			types.SeverityAlert:     true,
			types.SeverityEmergency: true,
		},
	}
}

// ClassOf returns the class of a category
func (t RoutingTable) ClassOf(category types.Category) CategoryClass {
	if c, ok := t.Categories[category]; ok {
		return c
	}
	return ClassStandard
}

// IsCritical reports whether the event must be written synchronously
func (t RoutingTable) IsCritical(category types.Category, severity types.Severity) bool {
	return t.ClassOf(category) == ClassCritical || t.CriticalSeverities[severity]
}

// QueueHealth reports whether the async queue can accept events
type QueueHealth interface {
	Healthy(ctx context.Context) error
}

// RoutingPolicy decides how each event is processed
type RoutingPolicy struct {
	Table           RoutingTable
	AsyncEnabled    bool
	BatchingEnabled bool
	HealthTimeout   time.Duration
	Queue           QueueHealth
}

// Decide applies the routing priority:
//  1. critical category -> sync
//  2. critical severity -> sync
//  3. high-volume category with async enabled -> async, or sync when the
//     queue is unhealthy
//  4. batching enabled -> batched
//  5. sync
func (p *RoutingPolicy) Decide(ctx context.Context, category types.Category, severity types.Severity) Route {
	class := p.Table.ClassOf(category)

	if class == ClassCritical {
		return RouteSync
	}
	if p.Table.CriticalSeverities[severity] {
		return RouteSync
	}

	if class == ClassHighVolume && p.AsyncEnabled {
		if p.queueHealthy(ctx) {
			return RouteAsync
		}
		// An unhealthy queue demotes to a direct write, never to a drop
		return RouteSync
	}

	if p.BatchingEnabled {
		return RouteBatched
	}

	return RouteSync
}

func (p *RoutingPolicy) queueHealthy(ctx context.Context) bool {
	if p.Queue == nil {
		return false
	}

	timeout := p.HealthTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return p.Queue.Healthy(hctx) == nil
}
