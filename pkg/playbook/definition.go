// Package playbook executes declarative multi-step business playbooks as
// compensating sagas: steps run in declaration order behind dependency and
// condition gates, failures trigger declared compensations, and every
// transition lands in an append-only audit trail.
package playbook

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quentra/playbook/pkg/errors"
)

// StepType is the closed vocabulary of step implementations.
type StepType string

const (
	StepAIGenerate     StepType = "ai_generate"
	StepOutlookDraft   StepType = "graph_outlook_draft"
	StepTeamsNotify    StepType = "graph_teams_notify"
	StepPlannerTask    StepType = "graph_planner_task"
	StepDatabaseQuery  StepType = "database_query"
	StepWebhookTrigger StepType = "webhook_trigger"
	StepCondition      StepType = "condition"
	StepDelay          StepType = "delay"
)

var stepTypes = map[StepType]bool{
	StepAIGenerate:     true,
	StepOutlookDraft:   true,
	StepTeamsNotify:    true,
	StepPlannerTask:    true,
	StepDatabaseQuery:  true,
	StepWebhookTrigger: true,
	StepCondition:      true,
	StepDelay:          true,
}

// Condition gates a step on a value comparison. Either Field/Operator/Value
// or a free-form Expression is set, not both.
type Condition struct {
	Field    string      `yaml:"field,omitempty"`
	Operator string      `yaml:"operator,omitempty"`
	Value    interface{} `yaml:"value,omitempty"`

	// Expression is an alternative boolean expression evaluated against
	// the variables and step outputs (expr syntax).
	Expression string `yaml:"expression,omitempty"`
}

// Compensation is the corrective action run when a step's failed result
// demands it. Any step type can serve as a compensation.
type Compensation struct {
	Type        StepType               `yaml:"type"`
	Config      map[string]interface{} `yaml:"config"`
	Description string                 `yaml:"description"`
}

// Step is one unit of a playbook.
type Step struct {
	ID   string   `yaml:"id"`
	Type StepType `yaml:"type"`
	Name string   `yaml:"name,omitempty"`

	// Config is the type-specific payload. String values may contain
	// {{placeholder}} references resolved before dispatch.
	Config map[string]interface{} `yaml:"config"`

	// DependsOn lists step IDs that must have succeeded before this step
	// runs. Unmet dependencies skip the step, they do not fail it.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Conditions gate the step; all must hold (logical AND).
	Conditions []Condition `yaml:"conditions,omitempty"`

	// Timeout bounds the handler. Zero means no step-level timeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Compensation *Compensation `yaml:"compensation,omitempty"`
}

// Definition is an immutable, versioned playbook.
type Definition struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`

	Steps []Step `yaml:"steps"`

	// Timeout bounds the whole execution. Zero means unbounded.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries is declared for forward compatibility and validated, but
	// the engine does not retry steps.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Variables seed the execution context.
	Variables map[string]interface{} `yaml:"variables,omitempty"`
}

// Load reads and validates a playbook definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: "playbook", Reason: "cannot read definition file", Cause: err}
	}
	return Parse(data)
}

// Parse parses and validates playbook YAML.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ConfigError{Key: "playbook", Reason: "invalid YAML", Cause: err}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural invariants: IDs present and unique, step types
// known, dependencies referencing only earlier steps. Because execution
// order is declaration order, the backward-only rule makes dependency
// cycles impossible.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "playbook ID is required"}
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{Field: "steps", Message: "playbook has no steps"}
	}
	if d.MaxRetries < 0 {
		return &errors.ValidationError{Field: "max_retries", Message: "must not be negative"}
	}

	seen := make(map[string]int, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: "step ID is required",
			}
		}
		if _, dup := seen[step.ID]; dup {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step ID %q", step.ID),
			}
		}
		if !stepTypes[step.Type] {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].type", i),
				Message:    fmt.Sprintf("unknown step type %q", step.Type),
				Suggestion: "see the step type list in the package documentation",
			}
		}
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].depends_on", i),
					Message: fmt.Sprintf("step %q depends on %q, which is not an earlier step", step.ID, dep),
				}
			}
		}
		if step.Compensation != nil && !stepTypes[step.Compensation.Type] {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].compensation.type", i),
				Message: fmt.Sprintf("unknown compensation type %q", step.Compensation.Type),
			}
		}
		for j, cond := range step.Conditions {
			if cond.Expression != "" && (cond.Field != "" || cond.Operator != "") {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].conditions[%d]", i, j),
					Message: "a condition uses either field/operator/value or expression, not both",
				}
			}
			if cond.Expression == "" && cond.Field == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].conditions[%d]", i, j),
					Message: "a condition needs a field or an expression",
				}
			}
		}
		seen[step.ID] = i
	}
	return nil
}

// StepByID returns the step with the given ID.
func (d *Definition) StepByID(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
