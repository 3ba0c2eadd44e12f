package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glueful/audit-engine/pkg/types"
)

// ContextActorKey is the gin context key read as the actor when no
// authentication layer called SetActor
const ContextActorKey = "audit_actor_id"

// Gin returns gin middleware equivalent to HTTP
func Gin(rec Recorder, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := requestID(c.Request)
		c.Header(RequestIDHeader, reqID)

		info := RequestInfo(c.Request, opts)
		if !opts.TrustProxy {
			info.IPAddress = c.RemoteIP()
		}

		ctx := types.WithRequestInfo(c.Request.Context(), info)
		ctx, ra := withRequestAudit(ctx)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if rec == nil || opts.skip(c.Request.URL.Path) {
			return
		}
		if actor := c.GetString(ContextActorKey); actor != "" {
			SetActor(ctx, actor)
		}
		rec.Record(ctx, requestEvent(ctx, ra, reqID, c.Writer.Status(), time.Since(start)))
	}
}
