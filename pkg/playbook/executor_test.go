package playbook

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDispatcher scripts step outcomes by step type and records every
// dispatch.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	fn    func(stepType StepType, config map[string]interface{}) StepResult
}

type dispatchCall struct {
	stepType StepType
	config   map[string]interface{}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, stepType StepType, config map[string]interface{}, ec *Context) StepResult {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{stepType: stepType, config: config})
	d.mu.Unlock()
	if d.fn != nil {
		return d.fn(stepType, config)
	}
	return StepResult{Success: true, Data: map[string]interface{}{"ok": true}}
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func twoStepDef() *Definition {
	return &Definition{
		ID:   "test-playbook",
		Name: "Test",
		Steps: []Step{
			{ID: "a", Type: StepWebhookTrigger, Config: map[string]interface{}{"url": "http://a"}},
			{ID: "b", Type: StepWebhookTrigger, Config: map[string]interface{}{"url": "http://b"}, DependsOn: []string{"a"}},
		},
	}
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)

	res, err := e.Execute(context.Background(), twoStepDef(), ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected overall success")
	}
	if len(res.Results) != 2 {
		t.Errorf("expected 2 stored results, got %d", len(res.Results))
	}
	if d.callCount() != 2 {
		t.Errorf("expected 2 dispatches, got %d", d.callCount())
	}
	for _, id := range []string{"a", "b"} {
		if len(ec.Audit().Find(id, ActionStart)) != 1 {
			t.Errorf("step %s missing start audit event", id)
		}
		if len(ec.Audit().Find(id, ActionComplete)) != 1 {
			t.Errorf("step %s missing complete audit event", id)
		}
	}
}

func TestExecute_FailedDependencySkipsAndCompensatesOnce(t *testing.T) {
	def := &Definition{
		ID: "dep-playbook",
		Steps: []Step{
			{
				ID:   "a",
				Type: StepWebhookTrigger,
				Compensation: &Compensation{
					Type:        StepWebhookTrigger,
					Config:      map[string]interface{}{"url": "http://undo-a"},
					Description: "undo a",
				},
			},
			{ID: "b", Type: StepWebhookTrigger, DependsOn: []string{"a"}},
		},
	}

	var compensations int
	d := &fakeDispatcher{}
	d.fn = func(stepType StepType, config map[string]interface{}) StepResult {
		if url, _ := config["url"].(string); url == "http://undo-a" {
			compensations++
			return StepResult{Success: true}
		}
		return StepResult{Success: false, Error: "boom", CompensationRequired: true}
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	res, err := e.Execute(context.Background(), def, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Success {
		t.Error("expected overall failure")
	}
	if _, ok := res.Results["b"]; ok {
		t.Error("step with unmet dependency must not store a result")
	}
	skips := ec.Audit().Find("b", ActionDependencyCheck)
	if len(skips) != 1 || skips[0].Status != StatusSkipped {
		t.Errorf("expected one skipped dependency_check event for b, got %v", skips)
	}
	if compensations != 1 {
		t.Errorf("compensation must run exactly once, ran %d times", compensations)
	}
	if len(ec.Audit().Find("a", ActionCompensationComplete)) != 1 {
		t.Error("expected a compensation_complete audit event for a")
	}
}

func TestExecute_StepTimeout(t *testing.T) {
	def := &Definition{
		ID: "timeout-playbook",
		Steps: []Step{
			{ID: "one", Type: StepDelay, Config: map[string]interface{}{}},
			{ID: "two", Type: StepDelay, Config: map[string]interface{}{}, Timeout: 10 * time.Millisecond},
			{ID: "three", Type: StepDelay, Config: map[string]interface{}{}},
		},
	}

	// Every dispatch after the first is slow; only step two carries a
	// timeout, so step three still completes.
	d := &fakeDispatcher{}
	slow := false
	var mu sync.Mutex
	d.fn = func(stepType StepType, config map[string]interface{}) StepResult {
		mu.Lock()
		first := !slow
		slow = true
		mu.Unlock()
		if !first {
			time.Sleep(100 * time.Millisecond)
		}
		return StepResult{Success: true}
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	res, err := e.Execute(context.Background(), def, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	two := res.Results["two"]
	if two.Success {
		t.Error("timed out step must fail")
	}
	if two.Error != "Timeout" {
		t.Errorf("expected error \"Timeout\", got %q", two.Error)
	}
	if !two.CompensationRequired {
		t.Error("timeout must demand compensation")
	}

	events := ec.Audit().Find("two", ActionComplete)
	if len(events) != 1 || events[0].Status != StatusFailed {
		t.Errorf("expected a failed complete event for step two, got %v", events)
	}
	if res.Success {
		t.Error("expected overall failure")
	}
}

func TestExecute_ConditionSkipDoesNotFail(t *testing.T) {
	def := &Definition{
		ID: "cond-playbook",
		Steps: []Step{
			{ID: "a", Type: StepWebhookTrigger},
			{
				ID:   "b",
				Type: StepWebhookTrigger,
				Conditions: []Condition{
					{Field: "mode", Operator: "equals", Value: "aggressive"},
				},
			},
		},
	}

	d := &fakeDispatcher{}
	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", map[string]interface{}{"mode": "gentle"})
	res, err := e.Execute(context.Background(), def, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.Success {
		t.Error("a condition skip must not fail the playbook")
	}
	if _, ok := res.Results["b"]; ok {
		t.Error("skipped step must not store a result")
	}
	skips := ec.Audit().Find("b", ActionConditionCheck)
	if len(skips) != 1 || skips[0].Status != StatusSkipped {
		t.Errorf("expected one skipped condition_check event, got %v", skips)
	}
	if d.callCount() != 1 {
		t.Errorf("expected only step a to dispatch, got %d", d.callCount())
	}
}

func TestExecute_HandlerPanicSynthesizesFailure(t *testing.T) {
	def := &Definition{
		ID:    "panic-playbook",
		Steps: []Step{{ID: "a", Type: StepWebhookTrigger}},
	}

	d := &fakeDispatcher{}
	d.fn = func(StepType, map[string]interface{}) StepResult {
		panic("handler exploded")
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	res, err := e.Execute(context.Background(), def, ec)
	if err != nil {
		t.Fatalf("a handler panic must not escape execute: %v", err)
	}

	a := res.Results["a"]
	if a.Success {
		t.Error("panicked step must fail")
	}
	if !a.CompensationRequired {
		t.Error("panicked step must demand compensation")
	}
	if !strings.Contains(a.Error, "handler exploded") {
		t.Errorf("expected panic message in error, got %q", a.Error)
	}
	events := ec.Audit().Find("a", ActionError)
	if len(events) != 1 || events[0].Status != StatusFailed {
		t.Errorf("expected one error audit event, got %v", events)
	}
}

func TestExecute_CompensationOnlyWhenRequired(t *testing.T) {
	def := &Definition{
		ID: "no-comp-playbook",
		Steps: []Step{
			{
				ID:   "gate",
				Type: StepCondition,
				Compensation: &Compensation{
					Type:   StepWebhookTrigger,
					Config: map[string]interface{}{"url": "http://undo"},
				},
			},
		},
	}

	var compensations int
	d := &fakeDispatcher{}
	d.fn = func(stepType StepType, config map[string]interface{}) StepResult {
		if url, _ := config["url"].(string); url == "http://undo" {
			compensations++
			return StepResult{Success: true}
		}
		// A failed gate does not demand compensation.
		return StepResult{Success: false, Error: "condition not met", CompensationRequired: false}
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	res, err := e.Execute(context.Background(), def, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Success {
		t.Error("expected overall failure")
	}
	if compensations != 0 {
		t.Errorf("compensation must not run without compensationRequired, ran %d times", compensations)
	}
}

func TestExecute_LaterStepReadsEarlierOutput(t *testing.T) {
	def := &Definition{
		ID: "chain-playbook",
		Steps: []Step{
			{ID: "fetch", Type: StepDatabaseQuery},
			{
				ID:     "notify",
				Type:   StepWebhookTrigger,
				Config: map[string]interface{}{"url": "http://hook", "payload": "{{fetch.total}}"},
			},
		},
	}

	d := &fakeDispatcher{}
	d.fn = func(stepType StepType, config map[string]interface{}) StepResult {
		if stepType == StepDatabaseQuery {
			return StepResult{Success: true, Data: map[string]interface{}{"total": 42}}
		}
		return StepResult{Success: true}
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	if _, err := e.Execute(context.Background(), def, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.calls[len(d.calls)-1]
	// A pure placeholder resolves to the typed value, not a string.
	if got, ok := last.config["payload"].(int); !ok || got != 42 {
		t.Errorf("expected resolved payload 42, got %v", last.config["payload"])
	}
}

func TestExecute_CompensationFailureIsRecorded(t *testing.T) {
	def := &Definition{
		ID: "comp-fail-playbook",
		Steps: []Step{
			{
				ID:   "a",
				Type: StepWebhookTrigger,
				Compensation: &Compensation{
					Type:   StepWebhookTrigger,
					Config: map[string]interface{}{"url": "http://undo"},
				},
			},
		},
	}

	d := &fakeDispatcher{}
	d.fn = func(stepType StepType, config map[string]interface{}) StepResult {
		if url, _ := config["url"].(string); url == "http://undo" {
			return StepResult{Success: false, Error: "undo failed"}
		}
		return StepResult{Success: false, Error: "boom", CompensationRequired: true}
	}

	e := NewExecutor(d)
	ec := NewContext("org-1", "user-1", nil)
	if _, err := e.Execute(context.Background(), def, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := ec.Audit().Find("a", ActionCompensationError)
	if len(events) != 1 {
		t.Fatalf("expected one compensation_error event, got %d", len(events))
	}
	if events[0].Error != "undo failed" {
		t.Errorf("unexpected compensation error: %q", events[0].Error)
	}
}
