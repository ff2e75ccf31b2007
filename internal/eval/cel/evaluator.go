package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// DefaultCostLimit caps the work a single frame condition may do
const DefaultCostLimit uint64 = 10000

// FrameVars are the values a frame condition can reference under `frame`
type FrameVars struct {
	Seq       uint64
	Width     int
	Height    int
	Diff      float64
	Timestamp int64 // unix milliseconds
}

func (v FrameVars) activation() map[string]interface{} {
	return map[string]interface{}{
		"frame": map[string]interface{}{
			"seq":       int64(v.Seq),
			"width":     int64(v.Width),
			"height":    int64(v.Height),
			"diff":      v.Diff,
			"timestamp": v.Timestamp,
		},
	}
}

// Condition is a compiled boolean expression over FrameVars
type Condition struct {
	expression string
	program    cel.Program
}

// String returns the source expression
func (c *Condition) String() string { return c.expression }

// Eval runs the condition against vars
func (c *Condition) Eval(ctx context.Context, vars FrameVars) (bool, error) {
	out, _, err := c.program.ContextEval(ctx, vars.activation())
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, not bool", c.expression, out.Value())
	}
	return matched, nil
}

// Evaluator compiles frame conditions and caches them by expression text
type Evaluator struct {
	env       *cel.Env
	costLimit uint64

	mu    sync.RWMutex
	cache map[string]*Condition
}

// NewEvaluator creates an evaluator with `frame` declared as a map(string, dyn)
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("frame", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: DefaultCostLimit,
		cache:     make(map[string]*Condition),
	}, nil
}

// Compile returns the cached condition for expression, compiling it on first use.
// Expressions whose static type is neither bool nor dyn are rejected.
func (e *Evaluator) Compile(expression string) (*Condition, error) {
	e.mu.RLock()
	cond, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return cond, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cond, ok := e.cache[expression]; ok {
		return cond, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("parse error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expression, out)
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("program generation error: %w", err)
	}

	cond = &Condition{expression: expression, program: program}
	e.cache[expression] = cond
	return cond, nil
}

// Len returns the number of cached conditions
func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops every compiled condition
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*Condition)
}
