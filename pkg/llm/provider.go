// Package llm provides the AI provider catalog, health monitoring, rate
// limiting, and the cost-guarded request router used by playbook steps.
package llm

import (
	"time"
)

// ProviderType distinguishes self-hosted edge providers from cloud APIs.
type ProviderType string

const (
	// ProviderTypeEdge is a self-hosted provider reachable on the internal network.
	ProviderTypeEdge ProviderType = "edge"
	// ProviderTypeCloud is a metered external API.
	ProviderTypeCloud ProviderType = "cloud"
)

// HealthStatus represents the cached health of a provider.
type HealthStatus string

const (
	// StatusHealthy means the last probe succeeded.
	StatusHealthy HealthStatus = "healthy"
	// StatusDegraded means the provider responds but with elevated errors or latency.
	StatusDegraded HealthStatus = "degraded"
	// StatusDown means the last probe failed. Down providers are never selected as primary.
	StatusDown HealthStatus = "down"
)

// Model describes a single model offered by a provider, including its
// per-1K-token cost table.
type Model struct {
	// ID is the provider-side model identifier.
	ID string

	// Name is the human-readable model name.
	Name string

	// ContextWindow is the maximum combined token window.
	ContextWindow int

	// InputCostPer1K is the cost per 1000 input tokens in EUR.
	InputCostPer1K float64

	// OutputCostPer1K is the cost per 1000 output tokens in EUR.
	OutputCostPer1K float64

	// MaxOutputTokens caps the completion length.
	MaxOutputTokens int

	// Capabilities tags what the model can do (text-generation, vision, ...).
	Capabilities []string
}

// RateLimits holds the provider's configured request and token ceilings.
type RateLimits struct {
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerDay      int
}

// CapabilityFlags describes provider-level capabilities.
type CapabilityFlags struct {
	FunctionCalling bool
	Vision          bool
	Streaming       bool
	Embeddings      bool

	// Languages lists supported ISO language codes.
	Languages []string

	// MaxConcurrent is the provider's concurrency ceiling.
	MaxConcurrent int
}

// Provider-level capability names accepted by Registry.ProvidersWithCapability.
const (
	CapabilityFunctionCalling = "function_calling"
	CapabilityVision          = "vision"
	CapabilityStreaming       = "streaming"
	CapabilityEmbeddings      = "embeddings"
)

// ConnectionConfig holds how to reach a provider.
type ConnectionConfig struct {
	// BaseURL is the provider API root.
	BaseURL string

	// APIKey is the credential for cloud providers. Empty for edge providers.
	APIKey string

	// HealthEndpoint is the probe path for edge providers (e.g. "/health").
	// Empty means no live probe is available.
	HealthEndpoint string

	// Timeout bounds a single request to the provider.
	Timeout time.Duration

	// RetryAttempts is the provider client's internal retry budget.
	RetryAttempts int

	// Headers are extra headers sent with every request.
	Headers map[string]string
}

// ProviderDescriptor is the catalog entry for one AI provider.
type ProviderDescriptor struct {
	// ID is the unique provider identifier (e.g. "mistral-edge").
	ID string

	// Name is the display name.
	Name string

	// Type is edge or cloud.
	Type ProviderType

	// Enabled controls whether the provider participates in selection.
	Enabled bool

	// Models lists the models this provider serves. The first entry is the
	// default model when a caller does not pin one.
	Models []Model

	// RateLimits are the provider's request/token ceilings.
	RateLimits RateLimits

	// Capabilities are provider-level capability flags.
	Capabilities CapabilityFlags

	// Config is the connection configuration.
	Config ConnectionConfig
}

// Model returns the model with the given ID, if present.
func (d *ProviderDescriptor) Model(id string) (Model, bool) {
	for _, m := range d.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// DefaultModel returns the provider's first model.
func (d *ProviderDescriptor) DefaultModel() (Model, bool) {
	if len(d.Models) == 0 {
		return Model{}, false
	}
	return d.Models[0], true
}

// MinInputCostPer1K returns the cheapest input rate across the provider's
// models. Used for cost-based selection.
func (d *ProviderDescriptor) MinInputCostPer1K() float64 {
	if len(d.Models) == 0 {
		return 0
	}
	min := d.Models[0].InputCostPer1K
	for _, m := range d.Models[1:] {
		if m.InputCostPer1K < min {
			min = m.InputCostPer1K
		}
	}
	return min
}

// HasCapability reports whether a provider-level capability flag is set.
func (d *ProviderDescriptor) HasCapability(capability string) bool {
	switch capability {
	case CapabilityFunctionCalling:
		return d.Capabilities.FunctionCalling
	case CapabilityVision:
		return d.Capabilities.Vision
	case CapabilityStreaming:
		return d.Capabilities.Streaming
	case CapabilityEmbeddings:
		return d.Capabilities.Embeddings
	default:
		return false
	}
}

// ProviderHealth is the cached result of the most recent health probe.
// It has a single writer (the health monitor) and many readers.
type ProviderHealth struct {
	ProviderID string
	Status     HealthStatus

	// Latency is the probe round-trip time.
	Latency time.Duration

	// ErrorRate is the observed error percentage (0-100).
	ErrorRate float64

	// LastCheck is when the probe ran.
	LastCheck time.Time

	// Detail carries optional probe context (e.g. the probe error).
	Detail string
}

// Requirements filters and ranks providers for BestProvider.
type Requirements struct {
	// Capabilities that at least one of the provider's models must cover.
	Capabilities []string

	// Languages the provider must support.
	Languages []string

	// MaxCostPer1K rejects providers whose cheapest input rate exceeds it.
	// Nil means no cost constraint.
	MaxCostPer1K *float64

	// PreferEdge ranks edge-hosted providers first.
	PreferEdge bool

	// ExcludeProviders removes specific provider IDs from consideration.
	ExcludeProviders []string
}
