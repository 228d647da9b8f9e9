package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quentra/playbook/internal/metrics"
	"github.com/quentra/playbook/pkg/errors"
)

// rateWindow tracks usage within the current fixed one-minute window.
type rateWindow struct {
	requests int
	tokens   int
	resetAt  time.Time
}

// Registry holds the provider catalog, cached health, and per-provider rate
// windows. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderDescriptor
	health    map[string]ProviderHealth
	windows   map[string]*rateWindow

	logger *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry seeded with the given catalog. Providers
// start with unknown health reported as healthy until the first probe runs.
func NewRegistry(catalog []ProviderDescriptor, opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[string]*ProviderDescriptor),
		health:    make(map[string]ProviderHealth),
		windows:   make(map[string]*rateWindow),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range catalog {
		d := catalog[i]
		r.providers[d.ID] = &d
		r.health[d.ID] = ProviderHealth{
			ProviderID: d.ID,
			Status:     StatusHealthy,
			LastCheck:  r.now(),
		}
	}
	return r
}

// Register adds or replaces a provider descriptor.
func (r *Registry) Register(d ProviderDescriptor) error {
	if d.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "provider ID is required"}
	}
	if d.Type != ProviderTypeEdge && d.Type != ProviderTypeCloud {
		return &errors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown provider type %q", d.Type),
			Suggestion: "use \"edge\" or \"cloud\"",
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[d.ID] = &d
	if _, ok := r.health[d.ID]; !ok {
		r.health[d.ID] = ProviderHealth{ProviderID: d.ID, Status: StatusHealthy, LastCheck: r.now()}
	}
	r.logger.Debug("provider registered", "provider", d.ID, "type", string(d.Type))
	return nil
}

// Provider returns a copy of the descriptor for the given ID.
func (r *Registry) Provider(id string) (ProviderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.providers[id]
	if !ok {
		return ProviderDescriptor{}, &errors.NotFoundError{Resource: "provider", ID: id}
	}
	return *d, nil
}

// AllProviders returns copies of every registered descriptor, sorted by ID.
func (r *Registry) AllProviders() []ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderDescriptor, 0, len(r.providers))
	for _, d := range r.providers {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledProviders returns the enabled subset, sorted by ID.
func (r *Registry) EnabledProviders() []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, d := range r.AllProviders() {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// ProvidersByType returns enabled providers of the given type.
func (r *Registry) ProvidersByType(t ProviderType) []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, d := range r.EnabledProviders() {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// ProvidersWithCapability returns enabled providers with the given
// provider-level capability flag set.
func (r *Registry) ProvidersWithCapability(capability string) []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, d := range r.EnabledProviders() {
		if d.HasCapability(capability) {
			out = append(out, d)
		}
	}
	return out
}

// BestProvider selects the best enabled provider for the given requirements.
// Candidates are filtered on exclusions, model capabilities, languages, and
// cost, then ranked: edge-first when requested, then healthy before
// non-healthy, then cheapest input rate.
func (r *Registry) BestProvider(req Requirements) (ProviderDescriptor, error) {
	candidates := r.EnabledProviders()

	filtered := candidates[:0:0]
	for _, d := range candidates {
		if containsString(req.ExcludeProviders, d.ID) {
			continue
		}
		if !coversCapabilities(d, req.Capabilities) {
			continue
		}
		if !coversLanguages(d, req.Languages) {
			continue
		}
		if req.MaxCostPer1K != nil && d.MinInputCostPer1K() > *req.MaxCostPer1K {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return ProviderDescriptor{}, errors.ErrNoHealthyProviders
	}

	r.mu.RLock()
	health := make(map[string]HealthStatus, len(filtered))
	for _, d := range filtered {
		health[d.ID] = r.health[d.ID].Status
	}
	r.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if req.PreferEdge && a.Type != b.Type {
			return a.Type == ProviderTypeEdge
		}
		ha, hb := health[a.ID] == StatusHealthy, health[b.ID] == StatusHealthy
		if ha != hb {
			return ha
		}
		return a.MinInputCostPer1K() < b.MinInputCostPer1K()
	})
	return filtered[0], nil
}

// CheckRateLimit consumes capacity from the provider's current one-minute
// window. The window is fixed, not sliding: the first request after expiry
// resets both counters and advances resetAt by a full minute. Returns a
// RateLimitError if either the request or token ceiling would be exceeded.
func (r *Registry) CheckRateLimit(providerID string, tokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.providers[providerID]
	if !ok {
		return &errors.NotFoundError{Resource: "provider", ID: providerID}
	}

	now := r.now()
	w, ok := r.windows[providerID]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(time.Minute)}
		r.windows[providerID] = w
	}

	if d.RateLimits.RequestsPerMinute > 0 && w.requests+1 > d.RateLimits.RequestsPerMinute {
		return &errors.RateLimitError{
			Provider: providerID,
			Reason:   fmt.Sprintf("request limit of %d/min reached", d.RateLimits.RequestsPerMinute),
			ResetAt:  w.resetAt,
		}
	}
	if d.RateLimits.TokensPerMinute > 0 && w.tokens+tokens > d.RateLimits.TokensPerMinute {
		return &errors.RateLimitError{
			Provider: providerID,
			Reason:   fmt.Sprintf("token limit of %d/min reached", d.RateLimits.TokensPerMinute),
			ResetAt:  w.resetAt,
		}
	}

	w.requests++
	w.tokens += tokens
	return nil
}

// EstimateCost returns the EUR cost of a request against a specific model.
func (r *Registry) EstimateCost(providerID, modelID string, inputTokens, outputTokens int) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.providers[providerID]
	if !ok {
		return 0, &errors.NotFoundError{Resource: "provider", ID: providerID}
	}
	m, ok := d.Model(modelID)
	if !ok {
		return 0, &errors.NotFoundError{Resource: "model", ID: modelID}
	}
	cost := float64(inputTokens)/1000*m.InputCostPer1K + float64(outputTokens)/1000*m.OutputCostPer1K
	return cost, nil
}

// Health returns the cached health for a provider.
func (r *Registry) Health(providerID string) (ProviderHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[providerID]
	if !ok {
		return ProviderHealth{}, &errors.NotFoundError{Resource: "provider", ID: providerID}
	}
	return h, nil
}

// AllHealth returns the cached health for every provider, keyed by ID.
func (r *Registry) AllHealth() map[string]ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ProviderHealth, len(r.health))
	for id, h := range r.health {
		out[id] = h
	}
	return out
}

// setHealth stores a probe result and updates the health gauge.
func (r *Registry) setHealth(h ProviderHealth) {
	r.mu.Lock()
	r.health[h.ProviderID] = h
	r.mu.Unlock()

	metrics.SetProviderHealth(h.ProviderID, healthGaugeValue(h.Status))
	if h.Status != StatusHealthy {
		r.logger.Warn("provider health changed",
			"provider", h.ProviderID,
			"status", string(h.Status),
			"error_rate", h.ErrorRate,
			"detail", h.Detail)
	}
}

func healthGaugeValue(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// coversCapabilities reports whether at least one model covers every
// requested capability tag.
func coversCapabilities(d ProviderDescriptor, caps []string) bool {
	if len(caps) == 0 {
		return true
	}
	for _, m := range d.Models {
		all := true
		for _, c := range caps {
			if !containsString(m.Capabilities, c) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func coversLanguages(d ProviderDescriptor, langs []string) bool {
	for _, l := range langs {
		if !containsString(d.Capabilities.Languages, strings.ToLower(l)) {
			return false
		}
	}
	return true
}
