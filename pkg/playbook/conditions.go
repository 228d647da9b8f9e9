package playbook

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator evaluates step conditions. Operator conditions read
// single values through the resolver; expression conditions compile once
// and run against the full variable/step environment.
type ConditionEvaluator struct {
	mu     sync.RWMutex
	cache  map[string]*vm.Program
	logger *slog.Logger
}

// NewConditionEvaluator creates an evaluator with an empty program cache.
func NewConditionEvaluator(logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionEvaluator{
		cache:  make(map[string]*vm.Program),
		logger: logger,
	}
}

// EvaluateAll reports whether every condition holds (logical AND). An
// empty list is true.
func (e *ConditionEvaluator) EvaluateAll(conditions []Condition, resolver *Resolver) bool {
	for _, c := range conditions {
		if !e.evaluate(c, resolver) {
			return false
		}
	}
	return true
}

func (e *ConditionEvaluator) evaluate(c Condition, resolver *Resolver) bool {
	if c.Expression != "" {
		return e.evaluateExpression(c.Expression, resolver)
	}

	value, exists := resolver.Value(c.Field)
	switch c.Operator {
	case "equals":
		return fmt.Sprint(value) == fmt.Sprint(c.Value)
	case "not_equals":
		return fmt.Sprint(value) != fmt.Sprint(c.Value)
	case "greater_than":
		a, aok := toFloat(value)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case "less_than":
		a, aok := toFloat(value)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	case "contains":
		return strings.Contains(fmt.Sprint(value), fmt.Sprint(c.Value))
	case "exists":
		return exists && value != nil
	default:
		// Fail closed on operators we do not know.
		e.logger.Warn("unknown condition operator",
			"operator", c.Operator,
			"field", c.Field)
		return false
	}
}

// evaluateExpression compiles (with caching) and runs a boolean expression
// against {vars, steps}. Any compile or runtime error fails closed.
func (e *ConditionEvaluator) evaluateExpression(expression string, resolver *Resolver) bool {
	program, err := e.compile(expression)
	if err != nil {
		e.logger.Warn("failed to compile condition expression",
			"expression", expression,
			"error", err.Error())
		return false
	}

	steps := make(map[string]interface{})
	for id, result := range resolver.ctx.Results().All() {
		steps[id] = result.Data
	}
	env := map[string]interface{}{
		"vars":  resolver.ctx.Variables(),
		"steps": steps,
	}

	out, err := expr.Run(program, env)
	if err != nil {
		e.logger.Warn("condition expression failed",
			"expression", expression,
			"error", err.Error())
		return false
	}
	result, ok := out.(bool)
	return ok && result
}

func (e *ConditionEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
