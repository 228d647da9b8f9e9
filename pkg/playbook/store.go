package playbook

import (
	"sync"

	"github.com/quentra/playbook/pkg/errors"
)

// StepResult is the outcome of one step. Stored exactly once per step per
// execution; later steps consume Data through the variable resolver.
type StepResult struct {
	Success              bool
	Data                 map[string]interface{}
	Error                string
	CompensationRequired bool
	Metadata             map[string]interface{}
}

// ResultStore holds step results keyed by step ID. Writes are write-once:
// a second store for the same ID is rejected, never merged. A skipped step
// has no entry at all, which is how gates are distinguished from failures.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]StepResult
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]StepResult)}
}

// Store writes a result. Returns ErrResultAlreadyStored if the step
// already has one.
func (s *ResultStore) Store(stepID string, result StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[stepID]; ok {
		return errors.Wrapf(errors.ErrResultAlreadyStored, "step %s", stepID)
	}
	s.results[stepID] = result
	return nil
}

// Get returns the stored result for a step, if any.
func (s *ResultStore) Get(stepID string) (StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[stepID]
	return r, ok
}

// Succeeded reports whether a step has a stored, successful result.
func (s *ResultStore) Succeeded(stepID string) bool {
	r, ok := s.Get(stepID)
	return ok && r.Success
}

// All returns a copy of every stored result.
func (s *ResultStore) All() map[string]StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StepResult, len(s.results))
	for id, r := range s.results {
		out[id] = r
	}
	return out
}
