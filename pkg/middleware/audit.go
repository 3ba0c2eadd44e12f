// Package middleware captures request context for audit events and
// records one api_access event per request, for net/http and gin servers.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glueful/audit-engine/pkg/types"
)

// ActionRequest is the action of the per-request api_access event
const ActionRequest = "request"

// RequestIDHeader carries the request id; an incoming value is kept
const RequestIDHeader = "X-Request-ID"

// Recorder records a prepared event and returns its id
type Recorder interface {
	Record(ctx context.Context, event *types.AuditEvent) string
}

// Options configures the request auditing middleware
type Options struct {
	// SkipPaths are path prefixes that are never audited
	SkipPaths []string

	// SessionHeader names the header holding the session id
	SessionHeader string

	// TrustProxy takes the client address from X-Forwarded-For and X-Real-IP
	TrustProxy bool
}

func (o Options) sessionHeader() string {
	if o.SessionHeader == "" {
		return "X-Session-ID"
	}
	return o.SessionHeader
}

func (o Options) skip(path string) bool {
	for _, p := range o.SkipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// requestAudit accumulates what handlers learn while serving the request
type requestAudit struct {
	mu      sync.Mutex
	actorID string
	details map[string]interface{}
}

type requestAuditKey struct{}

func withRequestAudit(ctx context.Context) (context.Context, *requestAudit) {
	ra := &requestAudit{details: make(map[string]interface{})}
	return context.WithValue(ctx, requestAuditKey{}, ra), ra
}

// SetActor sets the actor of the request's api_access event. Authentication
// layers call it once the caller is known.
func SetActor(ctx context.Context, actorID string) {
	if ra, ok := ctx.Value(requestAuditKey{}).(*requestAudit); ok {
		ra.mu.Lock()
		ra.actorID = actorID
		ra.mu.Unlock()
	}
}

// AddDetail adds a detail to the request's api_access event
func AddDetail(ctx context.Context, key string, value interface{}) {
	if ra, ok := ctx.Value(requestAuditKey{}).(*requestAudit); ok {
		ra.mu.Lock()
		ra.details[key] = value
		ra.mu.Unlock()
	}
}

// RequestInfo extracts the audit request context of r
func RequestInfo(r *http.Request, opts Options) types.RequestInfo {
	return types.RequestInfo{
		IPAddress: ClientIP(r, opts.TrustProxy),
		UserAgent: r.UserAgent(),
		URI:       r.URL.RequestURI(),
		Path:      r.URL.Path,
		Method:    r.Method,
		SessionID: r.Header.Get(opts.sessionHeader()),
	}
}

// ClientIP returns the client address of r without the port
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// severityForStatus maps a response status to the event severity
func severityForStatus(status int) types.Severity {
	switch {
	case status >= 500:
		return types.SeverityError
	case status >= 400:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

func requestEvent(ctx context.Context, ra *requestAudit, requestID string, status int, elapsed time.Duration) *types.AuditEvent {
	ra.mu.Lock()
	details := make(map[string]interface{}, len(ra.details)+3)
	for k, v := range ra.details {
		details[k] = v
	}
	actorID := ra.actorID
	ra.mu.Unlock()

	details["request_id"] = requestID
	details["status"] = status
	details["latency_ms"] = elapsed.Milliseconds()

	e := types.NewAuditEvent(ctx, types.CategoryAPIAccess, ActionRequest, severityForStatus(status), details)
	if actorID != "" {
		e.SetActor(actorID)
	}
	return e
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.New().String()
}

// statusWriter captures the response status
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTP returns net/http middleware that stores the request context for
// types.NewAuditEvent and records an api_access event after the handler.
func HTTP(rec Recorder, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := requestID(r)
			w.Header().Set(RequestIDHeader, reqID)

			ctx := types.WithRequestInfo(r.Context(), RequestInfo(r, opts))
			ctx, ra := withRequestAudit(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			if rec == nil || opts.skip(r.URL.Path) {
				return
			}
			rec.Record(ctx, requestEvent(ctx, ra, reqID, sw.status, time.Since(start)))
		})
	}
}
