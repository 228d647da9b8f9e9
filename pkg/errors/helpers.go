// Package errors provides the shared error taxonomy for the playbook engine
// and the AI router. Errors are typed so callers can branch on category
// (errors.As) while keeping human-readable messages with suggestions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Canonical error categories used as metric labels. Classification is
// advisory (observability only), never business logic.
const (
	CategoryCostCap     = "cost_cap_exceeded"
	CategoryNoProviders = "no_providers"
	CategoryTimeout     = "timeout"
	CategoryRateLimit   = "rate_limit"
	CategoryUnknown     = "unknown"
)

// Classify maps an error to a canonical category for metric labels.
// Typed errors classify structurally; anything else falls back to message
// inspection the way the operator dashboards expect.
func Classify(err error) string {
	if err == nil {
		return CategoryUnknown
	}

	var budgetErr *BudgetError
	if errors.As(err, &budgetErr) {
		return CategoryCostCap
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return CategoryRateLimit
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTimeout
	}
	if errors.Is(err, ErrNoHealthyProviders) {
		return CategoryNoProviders
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cost cap") || strings.Contains(msg, "budget"):
		return CategoryCostCap
	case strings.Contains(msg, "no healthy providers") || strings.Contains(msg, "no providers"):
		return CategoryNoProviders
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return CategoryTimeout
	case strings.Contains(msg, "rate limit"):
		return CategoryRateLimit
	default:
		return CategoryUnknown
	}
}
