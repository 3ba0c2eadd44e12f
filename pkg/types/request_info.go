package types

import "context"

type requestInfoKey struct{}

// RequestInfo is the network and request context captured for an audit event
type RequestInfo struct {
	IPAddress string
	UserAgent string
	URI       string
	Path      string
	Method    string
	SessionID string
}

// WithRequestInfo returns a context carrying request information
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request information stored in ctx, if any
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
