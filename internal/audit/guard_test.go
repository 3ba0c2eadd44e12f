package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard(t *testing.T) {
	ctx := context.Background()
	assert.False(t, InAuditCall(ctx))

	guarded := withGuard(ctx)
	assert.True(t, InAuditCall(guarded))

	// Derived contexts keep the token, the parent does not gain it
	child, cancel := context.WithCancel(guarded)
	defer cancel()
	assert.True(t, InAuditCall(child))
	assert.False(t, InAuditCall(ctx))
}

func TestPlaceholderID(t *testing.T) {
	a := placeholderID()
	b := placeholderID()

	assert.True(t, strings.HasPrefix(a, SuppressedPrefix))
	assert.NotEqual(t, a, b)
}
