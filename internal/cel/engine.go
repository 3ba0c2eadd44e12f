// Package cel compiles and evaluates CEL expressions over audit events
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	audittypes "github.com/glueful/audit-engine/pkg/types"
)

// Engine provides CEL expression compilation and evaluation
type Engine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program - compiled program cache
}

// NewEngine creates an engine exposing the variables:
//
//	event   - canonical map of the audit event
//	request - ambient request info (path, method, ip_address, user_agent)
//
// and the function severityAtLeast(severity, minimum).
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.StringType)),
		cel.Function("severityAtLeast",
			cel.Overload("severityAtLeast_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(severityAtLeast),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Compile compiles a boolean CEL expression and caches the result
func (e *Engine) Compile(expr string) (cel.Program, error) {
	// Check cache first
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType().String(); out != cel.BoolType.String() && out != cel.DynType.String() {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", out)
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// Evaluate evaluates a compiled program against an event and request info
func (e *Engine) Evaluate(prog cel.Program, event map[string]interface{}, request map[string]string) (bool, error) {
	if request == nil {
		request = map[string]string{}
	}

	result, _, err := prog.Eval(map[string]interface{}{
		"event":   event,
		"request": request,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	if boolVal, ok := result.Value().(bool); ok {
		return boolVal, nil
	}
	return false, fmt.Errorf("CEL expression did not return boolean")
}

// ClearCache clears the compiled program cache
func (e *Engine) ClearCache() {
	e.programs.Range(func(key, _ interface{}) bool {
		e.programs.Delete(key)
		return true
	})
}

func severityAtLeast(lhs, rhs ref.Val) ref.Val {
	sev, ok := lhs.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(lhs)
	}
	min, ok := rhs.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(rhs)
	}

	s := audittypes.Severity(sev)
	m := audittypes.Severity(min)
	if !s.Valid() || !m.Valid() {
		return types.False
	}
	return types.Bool(s.AtLeast(m))
}
