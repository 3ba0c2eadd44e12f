package audit

import (
	"encoding/json"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"github.com/glueful/audit-engine/internal/cel"
	"github.com/glueful/audit-engine/pkg/types"
)

type suppressionRule struct {
	expr string
	prog celgo.Program
}

// SuppressionRules drops noise events matching any CEL expression
type SuppressionRules struct {
	engine *cel.Engine
	rules  []suppressionRule
}

// NewSuppressionRules compiles the expressions. An invalid expression
// fails the whole set.
func NewSuppressionRules(engine *cel.Engine, exprs []string) (*SuppressionRules, error) {
	r := &SuppressionRules{engine: engine}
	for _, expr := range exprs {
		prog, err := engine.Compile(expr)
		if err != nil {
			return nil, invalidArgument("suppress rule %q: %v", expr, err)
		}
		r.rules = append(r.rules, suppressionRule{expr: expr, prog: prog})
	}
	return r, nil
}

// Len returns the number of rules
func (r *SuppressionRules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Match returns the first rule matching the event. Rules that fail to
// evaluate do not match.
func (r *SuppressionRules) Match(e *types.AuditEvent, info types.RequestInfo) (string, bool) {
	if r.Len() == 0 {
		return "", false
	}

	event := celEventMap(e)
	request := map[string]string{
		"path":       info.Path,
		"uri":        info.URI,
		"method":     info.Method,
		"ip_address": info.IPAddress,
		"user_agent": info.UserAgent,
		"session_id": info.SessionID,
	}

	for _, rule := range r.rules {
		ok, err := r.engine.Evaluate(rule.prog, event, request)
		if err == nil && ok {
			return rule.expr, true
		}
	}
	return "", false
}

// celEventMap returns the canonical map with JSON numbers converted to
// CEL-native numeric values
func celEventMap(e *types.AuditEvent) map[string]interface{} {
	m := e.ToMap()
	m["details"] = celValue(m["details"])
	return m
}

func celValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = celValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = celValue(val)
		}
		return out
	case nil, bool, string, int64, float64:
		return t
	default:
		return fmt.Sprint(t)
	}
}
