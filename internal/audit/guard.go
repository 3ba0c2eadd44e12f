package audit

import (
	"context"

	"github.com/google/uuid"
)

type guardKey struct{}

// SuppressedPrefix prefixes the placeholder id returned for recursive calls
const SuppressedPrefix = "suppressed-"

// withGuard marks ctx as being inside an audit write
func withGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, true)
}

// InAuditCall reports whether ctx belongs to an in-flight audit write.
// Stores and sinks receive such a context; any audit call made with it is
// short-circuited instead of recursing.
func InAuditCall(ctx context.Context) bool {
	v, _ := ctx.Value(guardKey{}).(bool)
	return v
}

func placeholderID() string {
	return SuppressedPrefix + uuid.New().String()
}
