package playbook

import (
	"sync"
	"time"
)

// AuditAction identifies the transition an audit event records.
type AuditAction string

const (
	ActionStart                AuditAction = "start"
	ActionConditionCheck       AuditAction = "condition_check"
	ActionDependencyCheck      AuditAction = "dependency_check"
	ActionComplete             AuditAction = "complete"
	ActionError                AuditAction = "error"
	ActionCompensationStart    AuditAction = "compensation_start"
	ActionCompensationComplete AuditAction = "compensation_complete"
	ActionCompensationError    AuditAction = "compensation_error"
)

// AuditStatus is the step state an audit event reports.
type AuditStatus string

const (
	StatusPending     AuditStatus = "pending"
	StatusRunning     AuditStatus = "running"
	StatusCompleted   AuditStatus = "completed"
	StatusFailed      AuditStatus = "failed"
	StatusCompensated AuditStatus = "compensated"
	StatusSkipped     AuditStatus = "skipped"
)

// AuditMetadata ties an event to its execution principals.
type AuditMetadata struct {
	OrgID     string `json:"orgId"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// AuditEvent is one entry in the compliance record.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	StepID    string                 `json:"stepId"`
	Action    AuditAction            `json:"action"`
	Status    AuditStatus            `json:"status"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  AuditMetadata          `json:"metadata"`
}

// AuditTrail is the append-only event log for one execution. Events are
// never mutated or removed.
type AuditTrail struct {
	mu       sync.Mutex
	events   []AuditEvent
	metadata AuditMetadata
	now      func() time.Time
}

// NewAuditTrail creates a trail stamping every event with the given
// execution metadata.
func NewAuditTrail(metadata AuditMetadata) *AuditTrail {
	return &AuditTrail{metadata: metadata, now: time.Now}
}

// Record appends one event.
func (t *AuditTrail) Record(stepID string, action AuditAction, status AuditStatus, data map[string]interface{}, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, AuditEvent{
		Timestamp: t.now(),
		StepID:    stepID,
		Action:    action,
		Status:    status,
		Data:      data,
		Error:     errMsg,
		Metadata:  t.metadata,
	})
}

// Events returns a copy of the trail in append order.
func (t *AuditTrail) Events() []AuditEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AuditEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Find returns every event for a step with the given action.
func (t *AuditTrail) Find(stepID string, action AuditAction) []AuditEvent {
	var out []AuditEvent
	for _, e := range t.Events() {
		if e.StepID == stepID && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
