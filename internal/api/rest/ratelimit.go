package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/ratelimit"
	"github.com/glueful/audit-engine/pkg/middleware"
	"github.com/glueful/audit-engine/pkg/types"
)

// ActionRateLimitExceeded is recorded when a client is throttled
const ActionRateLimitExceeded = "rate_limit_exceeded"

// rateLimitMiddleware throttles API calls per caller. Ingest and report
// endpoints have their own buckets.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := s.rateLimitClient(r)
		key := rateLimitKey(r, client)

		allowed, remaining, resetTime, err := s.config.Limiter.Allow(r.Context(), key)
		if err != nil {
			s.logger.Error("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
			WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable", nil)
			return
		}

		if limit, err := s.config.Limiter.GetLimit(r.Context(), key); err == nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retryAfter := time.Until(resetTime)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}

			s.audit.Audit(r.Context(), types.CategoryAPIAccess, ActionRateLimitExceeded, types.SeverityWarning, map[string]interface{}{
				"client":     client,
				"endpoint":   r.URL.Path,
				"method":     r.Method,
				"reset_time": types.FormatTimestamp(resetTime),
			})

			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			WriteError(w, http.StatusTooManyRequests, "too many requests", map[string]interface{}{
				"retry_after": retryAfter.String(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitClient identifies the caller by token subject, falling back to
// the client address
func (s *Server) rateLimitClient(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return "user:" + claims.Subject
	}
	return "ip:" + middleware.ClientIP(r, s.config.TrustProxy)
}

func rateLimitKey(r *http.Request, client string) string {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/events"):
		return ratelimit.IngestKeyPrefix + client
	case strings.Contains(r.URL.Path, "/reports"):
		return ratelimit.ReportKeyPrefix + client
	default:
		return "api:" + client
	}
}
