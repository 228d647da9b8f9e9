package playbook

import (
	"sync"

	"github.com/google/uuid"
)

// Context is the mutable state of one playbook execution: the variable
// map, the step results, and the audit trail. A rerun needs a fresh
// Context; results are never reset.
type Context struct {
	ExecutionID string
	OrgID       string
	UserID      string

	mu        sync.RWMutex
	variables map[string]interface{}

	results *ResultStore
	audit   *AuditTrail
}

// NewContext creates an execution context seeded with the given variables.
func NewContext(orgID, userID string, variables map[string]interface{}) *Context {
	executionID := uuid.New().String()
	vars := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &Context{
		ExecutionID: executionID,
		OrgID:       orgID,
		UserID:      userID,
		variables:   vars,
		results:     NewResultStore(),
		audit: NewAuditTrail(AuditMetadata{
			OrgID:     orgID,
			UserID:    userID,
			RequestID: executionID,
		}),
	}
}

// Variable returns a context variable by exact key.
func (c *Context) Variable(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// SetVariable sets a context variable.
func (c *Context) SetVariable(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// Variables returns a copy of the variable map.
func (c *Context) Variables() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// Results returns the execution's result store.
func (c *Context) Results() *ResultStore {
	return c.results
}

// Audit returns the execution's audit trail.
func (c *Context) Audit() *AuditTrail {
	return c.audit
}
