// Package metrics registers the prometheus collectors shared by the AI
// router, the cost guardrails, and the playbook executor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_ai_requests_total",
			Help: "Total routed AI requests by org, provider, model and fallback path",
		},
		[]string{"org", "provider", "model", "fallback"},
	)

	aiErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_ai_errors_total",
			Help: "Total failed AI requests by org, provider and error category",
		},
		[]string{"org", "provider", "category"},
	)

	aiLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playbook_ai_latency_seconds",
			Help:    "Wall-clock latency of routed AI requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider", "model"},
	)

	aiTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_ai_tokens_total",
			Help: "Total tokens consumed by direction (input/output)",
		},
		[]string{"org", "provider", "model", "direction"},
	)

	aiCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playbook_ai_cost_eur",
			Help: "Accumulated AI spend in EUR for the current budget period",
		},
		[]string{"org", "period"},
	)

	budgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_budget_alerts_total",
			Help: "Budget alerts emitted by type (warning, limit_exceeded, emergency_stop)",
		},
		[]string{"org", "type", "period"},
	)

	stepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_step_executions_total",
			Help: "Executed playbook steps by type and outcome (completed, failed, skipped)",
		},
		[]string{"step_type", "outcome"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playbook_step_duration_seconds",
			Help:    "Duration of playbook step execution",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"step_type"},
	)

	compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playbook_compensations_total",
			Help: "Compensation executions by outcome (compensated, failed)",
		},
		[]string{"step_type", "outcome"},
	)

	providerHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playbook_provider_healthy",
			Help: "Provider health as reported by the health checker (1 healthy, 0.5 degraded, 0 down)",
		},
		[]string{"provider"},
	)
)

// RecordAIRequest increments the routed-request counter.
func RecordAIRequest(org, provider, model string, fallback bool) {
	fb := "false"
	if fallback {
		fb = "true"
	}
	aiRequests.WithLabelValues(org, provider, model, fb).Inc()
}

// RecordAIError increments the AI error counter.
// category should be one of the canonical categories from pkg/errors.
func RecordAIError(org, provider, category string) {
	aiErrors.WithLabelValues(org, provider, category).Inc()
}

// ObserveAILatency records the wall-clock latency of a routed request.
func ObserveAILatency(provider, model string, seconds float64) {
	aiLatency.WithLabelValues(provider, model).Observe(seconds)
}

// RecordTokens adds token counts for both directions of a completed call.
func RecordTokens(org, provider, model string, input, output int) {
	aiTokens.WithLabelValues(org, provider, model, "input").Add(float64(input))
	aiTokens.WithLabelValues(org, provider, model, "output").Add(float64(output))
}

// SetPeriodCost publishes the running spend gauge for a budget period.
func SetPeriodCost(org, period string, costEUR float64) {
	aiCost.WithLabelValues(org, period).Set(costEUR)
}

// RecordBudgetAlert increments the alert counter.
func RecordBudgetAlert(org, alertType, period string) {
	budgetAlerts.WithLabelValues(org, alertType, period).Inc()
}

// RecordStep increments the step execution counter.
func RecordStep(stepType, outcome string) {
	stepExecutions.WithLabelValues(stepType, outcome).Inc()
}

// ObserveStepDuration records how long a step handler ran.
func ObserveStepDuration(stepType string, seconds float64) {
	stepDuration.WithLabelValues(stepType).Observe(seconds)
}

// RecordCompensation increments the compensation counter.
func RecordCompensation(stepType, outcome string) {
	compensations.WithLabelValues(stepType, outcome).Inc()
}

// SetProviderHealth publishes the health gauge for a provider.
func SetProviderHealth(provider string, value float64) {
	providerHealth.WithLabelValues(provider).Set(value)
}
