package cel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Compile(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "simple boolean", expr: "true"},
		{name: "event field", expr: `event.category == "system"`},
		{name: "request prefix", expr: `request.path.startsWith("/health")`},
		{name: "custom function", expr: `severityAtLeast(event.severity, "error")`},
		{name: "non boolean", expr: `"text"`, wantErr: true},
		{name: "invalid syntax", expr: `this is not valid CEL`, wantErr: true},
		{name: "unknown variable", expr: `principal.id == "x"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Compile(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngine_Evaluate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	event := map[string]interface{}{
		"category": "api_access",
		"action":   "request",
		"severity": "warning",
		"details":  map[string]interface{}{"status": 200},
	}
	request := map[string]string{"path": "/health/live", "method": "GET"}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "category match", expr: `event.category == "api_access"`, want: true},
		{name: "category mismatch", expr: `event.category == "system"`, want: false},
		{name: "request path", expr: `request.path.startsWith("/health")`, want: true},
		{name: "nested details", expr: `event.details.status == 200`, want: true},
		{name: "severity below", expr: `severityAtLeast(event.severity, "error")`, want: false},
		{name: "severity at", expr: `severityAtLeast(event.severity, "warning")`, want: true},
		{name: "unknown severity", expr: `severityAtLeast(event.severity, "loud")`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := engine.Compile(tt.expr)
			require.NoError(t, err)

			got, err := engine.Evaluate(prog, event, request)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EvaluateMissingKey(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	prog, err := engine.Compile(`event.details.missing == "x"`)
	require.NoError(t, err)

	_, err = engine.Evaluate(prog, map[string]interface{}{"details": map[string]interface{}{}}, nil)
	assert.Error(t, err)
}

func TestEngine_CompileCache(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	p1, err := engine.Compile(`event.action == "a"`)
	require.NoError(t, err)
	p2, err := engine.Compile(`event.action == "a"`)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	engine.ClearCache()
	_, ok := engine.programs.Load(`event.action == "a"`)
	assert.False(t, ok)
}
