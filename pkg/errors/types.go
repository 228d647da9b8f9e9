package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoHealthyProviders indicates no candidate provider passed the health check.
	ErrNoHealthyProviders = errors.New("no healthy providers available")

	// ErrResultAlreadyStored indicates a second write of a step result within
	// one execution. Step results are write-once.
	ErrResultAlreadyStored = errors.New("step result already stored")
)

// ValidationError represents malformed definitions or step configuration.
type ValidationError struct {
	// Field identifies which field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "provider", "step", "playbook")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ProviderError represents a failure from an external AI provider.
type ProviderError struct {
	// Provider is the provider ID (e.g., "mistral-edge", "openai-gpt4")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with provider logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "limits.daily")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "AI request", "playbook step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// BudgetPeriod identifies which budget ceiling rejected a request.
type BudgetPeriod string

const (
	// PeriodRequest is the per-request cost ceiling.
	PeriodRequest BudgetPeriod = "request"
	// PeriodDaily is the rolling daily budget.
	PeriodDaily BudgetPeriod = "daily"
	// PeriodMonthly is the rolling monthly budget.
	PeriodMonthly BudgetPeriod = "monthly"
)

// BudgetError represents a request rejected by the cost guardrails before
// any spend occurred. It carries enough detail for the caller to decide
// whether to retry later or escalate for human approval.
type BudgetError struct {
	// OrgID is the tenant whose budget rejected the request
	OrgID string

	// Period is the ceiling that was violated (request, daily, monthly)
	Period BudgetPeriod

	// Reason is the human-readable rejection reason
	Reason string

	// CurrentCost is the accumulated cost for the period in EUR
	CurrentCost float64

	// Limit is the configured ceiling in EUR
	Limit float64
}

// Error implements the error interface.
func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget rejected for org %s: %s (current %.4f EUR, limit %.4f EUR)",
		e.OrgID, e.Reason, e.CurrentCost, e.Limit)
}

// RateLimitError represents a provider-level rate limit rejection.
type RateLimitError struct {
	// Provider is the provider whose rate window is exhausted
	Provider string

	// Reason distinguishes request-count from token-count exhaustion
	Reason string

	// ResetAt is when the current window expires
	ResetAt time.Time
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit for provider %s: %s (resets %s)",
		e.Provider, e.Reason, e.ResetAt.Format(time.RFC3339))
}
