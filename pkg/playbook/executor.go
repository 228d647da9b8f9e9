package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quentra/playbook/internal/log"
	"github.com/quentra/playbook/internal/metrics"
)

var tracer = otel.Tracer("github.com/quentra/playbook/pkg/playbook")

// Result is the outcome of one playbook execution. It is always complete:
// the per-step result map and the full audit trail are returned whether or
// not the execution succeeded, so callers can inspect and replay.
type Result struct {
	Success    bool
	Results    map[string]StepResult
	AuditTrail []AuditEvent
}

// Executor runs playbook definitions as compensating sagas.
type Executor struct {
	dispatcher Dispatcher
	evaluator  *ConditionEvaluator
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor over the given dispatcher.
func NewExecutor(dispatcher Dispatcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = NewConditionEvaluator(e.logger)
	return e
}

// Execute runs every step in declaration order. Dependencies and
// conditions are gates, not a scheduler: an unmet gate skips the step
// without failing it, and a skipped step stores no result. After the walk,
// steps whose stored result demands compensation get their declared
// compensation executed. A panic escaping the harness itself compensates
// every failed step and surfaces as an error; step-level failures never do.
func (e *Executor) Execute(ctx context.Context, def *Definition, ec *Context) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "playbook.execute", trace.WithAttributes(
		attribute.String("playbook.id", def.ID),
		attribute.String("execution.id", ec.ExecutionID),
	))
	defer span.End()

	logger := log.WithOrg(log.WithExecution(e.logger, ec.ExecutionID), ec.OrgID)
	logger.Info("playbook execution started", "playbook", def.ID, "steps", len(def.Steps))

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("playbook harness panicked", "panic", fmt.Sprint(r))
			e.compensateAll(ctx, def, ec, logger)
			result = nil
			err = fmt.Errorf("playbook %s execution panicked: %v", def.ID, r)
		}
	}()

	for _, step := range def.Steps {
		e.runStep(ctx, step, ec, logger)
	}

	success := true
	for _, step := range def.Steps {
		if r, ok := ec.Results().Get(step.ID); ok && !r.Success {
			success = false
		}
	}

	e.compensate(ctx, def, ec, logger)

	span.SetAttributes(attribute.Bool("playbook.success", success))
	logger.Info("playbook execution finished", "playbook", def.ID, "success", success)

	return &Result{
		Success:    success,
		Results:    ec.Results().All(),
		AuditTrail: ec.Audit().Events(),
	}, nil
}

// runStep applies the gates, executes the handler with an optional timeout
// race, and stores the write-once result.
func (e *Executor) runStep(ctx context.Context, step Step, ec *Context, logger *slog.Logger) {
	stepLogger := logger.With(log.StepIDKey, step.ID)

	for _, dep := range step.DependsOn {
		if !ec.Results().Succeeded(dep) {
			stepLogger.Info("step skipped, dependency unmet", "dependency", dep)
			ec.Audit().Record(step.ID, ActionDependencyCheck, StatusSkipped,
				map[string]interface{}{"dependency": dep}, "")
			metrics.RecordStep(string(step.Type), "skipped")
			return
		}
	}

	resolver := NewResolver(ec)
	if step.Type != StepCondition && len(step.Conditions) > 0 {
		if !e.evaluator.EvaluateAll(step.Conditions, resolver) {
			stepLogger.Info("step skipped, condition false")
			ec.Audit().Record(step.ID, ActionConditionCheck, StatusSkipped, nil, "")
			metrics.RecordStep(string(step.Type), "skipped")
			return
		}
	}

	ec.Audit().Record(step.ID, ActionStart, StatusRunning, nil, "")

	ctx, span := tracer.Start(ctx, "playbook.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", string(step.Type)),
	))
	defer span.End()

	resolved := resolver.ResolveConfig(step.Config)

	start := time.Now()
	result, panicked := e.dispatch(ctx, step, resolved, ec)
	metrics.ObserveStepDuration(string(step.Type), time.Since(start).Seconds())

	if err := ec.Results().Store(step.ID, result); err != nil {
		stepLogger.Error("failed to store step result", "error", err.Error())
	}

	switch {
	case panicked:
		stepLogger.Error("step handler panicked", "error", result.Error)
		ec.Audit().Record(step.ID, ActionError, StatusFailed, nil, result.Error)
		metrics.RecordStep(string(step.Type), "failed")
	case result.Success:
		ec.Audit().Record(step.ID, ActionComplete, StatusCompleted, result.Data, "")
		metrics.RecordStep(string(step.Type), "completed")
	default:
		stepLogger.Warn("step failed", "error", result.Error)
		ec.Audit().Record(step.ID, ActionComplete, StatusFailed, result.Data, result.Error)
		metrics.RecordStep(string(step.Type), "failed")
	}
}

// dispatch runs the handler in its own goroutine so a step timeout can be
// raced against it. On timeout the handler's context is cancelled and the
// late result is ignored; the handler may still finish its side effect, so
// at-most-once is not guaranteed across a timeout. A handler panic
// synthesizes a failed result that demands compensation.
func (e *Executor) dispatch(ctx context.Context, step Step, config map[string]interface{}, ec *Context) (StepResult, bool) {
	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	type outcome struct {
		result   StepResult
		panicked bool
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{
					result: StepResult{
						Success:              false,
						Error:                fmt.Sprintf("step panicked: %v", r),
						CompensationRequired: true,
					},
					panicked: true,
				}
			}
		}()
		ch <- outcome{result: e.dispatcher.Dispatch(stepCtx, step.Type, config, ec)}
	}()

	if step.Timeout > 0 {
		timer := time.NewTimer(step.Timeout)
		defer timer.Stop()
		select {
		case o := <-ch:
			return o.result, o.panicked
		case <-timer.C:
			cancel()
			return StepResult{
				Success:              false,
				Error:                "Timeout",
				CompensationRequired: true,
			}, false
		}
	}

	o := <-ch
	return o.result, o.panicked
}

// compensate runs the declared compensation for every step whose stored
// result has success=false and compensationRequired=true.
func (e *Executor) compensate(ctx context.Context, def *Definition, ec *Context, logger *slog.Logger) {
	for _, step := range def.Steps {
		r, ok := ec.Results().Get(step.ID)
		if !ok || r.Success || !r.CompensationRequired || step.Compensation == nil {
			continue
		}
		e.runCompensation(ctx, step, ec, logger)
	}
}

// compensateAll is the harness-failure path: every step with a failed
// stored result and a declared compensation is compensated, regardless of
// the compensationRequired flag.
func (e *Executor) compensateAll(ctx context.Context, def *Definition, ec *Context, logger *slog.Logger) {
	for _, step := range def.Steps {
		r, ok := ec.Results().Get(step.ID)
		if !ok || r.Success || step.Compensation == nil {
			continue
		}
		e.runCompensation(ctx, step, ec, logger)
	}
}

// runCompensation dispatches a compensation as a synthetic step: same
// handler switch, no dependency or condition gating, result not stored.
func (e *Executor) runCompensation(ctx context.Context, step Step, ec *Context, logger *slog.Logger) {
	comp := step.Compensation
	compLogger := logger.With(log.StepIDKey, step.ID)
	compLogger.Info("running compensation", "description", comp.Description)

	ctx, span := tracer.Start(ctx, "playbook.compensation", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("compensation.type", string(comp.Type)),
	))
	defer span.End()

	ec.Audit().Record(step.ID, ActionCompensationStart, StatusRunning,
		map[string]interface{}{"description": comp.Description}, "")

	resolved := NewResolver(ec).ResolveConfig(comp.Config)
	result := e.dispatchCompensation(ctx, comp, resolved, ec)

	if result.Success {
		ec.Audit().Record(step.ID, ActionCompensationComplete, StatusCompensated, result.Data, "")
		metrics.RecordCompensation(string(comp.Type), "completed")
	} else {
		compLogger.Error("compensation failed", "error", result.Error)
		ec.Audit().Record(step.ID, ActionCompensationError, StatusFailed, nil, result.Error)
		metrics.RecordCompensation(string(comp.Type), "failed")
	}
}

// dispatchCompensation shields the saga from a panicking compensation
// handler. Compensation failures are logged, never retried.
func (e *Executor) dispatchCompensation(ctx context.Context, comp *Compensation, config map[string]interface{}, ec *Context) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = StepResult{Success: false, Error: fmt.Sprintf("compensation panicked: %v", r)}
		}
	}()
	return e.dispatcher.Dispatch(ctx, comp.Type, config, ec)
}
