package llm

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/quentra/playbook/pkg/errors"
)

func testCatalog() []ProviderDescriptor {
	return []ProviderDescriptor{
		{
			ID:      "mistral-edge",
			Name:    "Mistral Edge",
			Type:    ProviderTypeEdge,
			Enabled: true,
			Models: []Model{
				{ID: "mistral-7b-instruct", Capabilities: []string{"text-generation", "conversation"}},
			},
			RateLimits: RateLimits{RequestsPerMinute: 2, TokensPerMinute: 100000},
			Capabilities: CapabilityFlags{
				Streaming: true,
				Languages: []string{"en", "fr", "de"},
			},
		},
		{
			ID:      "openai-gpt4",
			Name:    "OpenAI GPT-4",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{ID: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015, Capabilities: []string{"text-generation", "vision"}},
				{ID: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Capabilities: []string{"text-generation"}},
			},
			RateLimits: RateLimits{RequestsPerMinute: 500, TokensPerMinute: 30000},
			Capabilities: CapabilityFlags{
				Vision:    true,
				Streaming: true,
				Languages: []string{"en", "fr", "de", "es"},
			},
		},
		{
			ID:      "anthropic-claude",
			Name:    "Anthropic Claude",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{ID: "claude-3-haiku", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125, Capabilities: []string{"text-generation"}},
			},
			RateLimits: RateLimits{RequestsPerMinute: 50, TokensPerMinute: 40000},
			Capabilities: CapabilityFlags{
				Streaming: true,
				Languages: []string{"en"},
			},
		},
	}
}

func TestRegistry_ProviderReturnsCopy(t *testing.T) {
	r := NewRegistry(testCatalog())

	d, err := r.Provider("mistral-edge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Name = "mutated"

	again, _ := r.Provider("mistral-edge")
	if again.Name != "Mistral Edge" {
		t.Error("mutating a returned descriptor should not affect the registry")
	}
}

func TestRegistry_ProviderNotFound(t *testing.T) {
	r := NewRegistry(testCatalog())

	_, err := r.Provider("nonexistent")
	var notFound *errors.NotFoundError
	if !stderrors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegistry_ProvidersByType(t *testing.T) {
	r := NewRegistry(testCatalog())

	edge := r.ProvidersByType(ProviderTypeEdge)
	if len(edge) != 1 || edge[0].ID != "mistral-edge" {
		t.Errorf("expected single edge provider, got %v", edge)
	}
	cloud := r.ProvidersByType(ProviderTypeCloud)
	if len(cloud) != 2 {
		t.Errorf("expected two cloud providers, got %d", len(cloud))
	}
}

func TestRegistry_ProvidersWithCapability(t *testing.T) {
	r := NewRegistry(testCatalog())

	vision := r.ProvidersWithCapability(CapabilityVision)
	if len(vision) != 1 || vision[0].ID != "openai-gpt4" {
		t.Errorf("expected only openai-gpt4 with vision, got %v", vision)
	}
}

func TestRegistry_BestProvider(t *testing.T) {
	r := NewRegistry(testCatalog())

	tests := []struct {
		name    string
		req     Requirements
		want    string
		wantErr bool
	}{
		{
			name: "prefer edge wins over cheaper cloud",
			req:  Requirements{PreferEdge: true},
			want: "mistral-edge",
		},
		{
			name: "cheapest without edge preference",
			req:  Requirements{},
			want: "mistral-edge", // zero-cost edge is also the cheapest
		},
		{
			name: "exclusions remove candidates",
			req:  Requirements{ExcludeProviders: []string{"mistral-edge", "anthropic-claude"}},
			want: "openai-gpt4",
		},
		{
			name: "capability filter",
			req:  Requirements{Capabilities: []string{"vision"}},
			want: "openai-gpt4",
		},
		{
			name: "language filter",
			req:  Requirements{Languages: []string{"es"}},
			want: "openai-gpt4",
		},
		{
			name:    "impossible requirements",
			req:     Requirements{Capabilities: []string{"time-travel"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.BestProvider(tt.req)
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrNoHealthyProviders) {
					t.Fatalf("expected ErrNoHealthyProviders, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.ID != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.ID)
			}
		})
	}
}

func TestRegistry_BestProviderPrefersHealthy(t *testing.T) {
	r := NewRegistry(testCatalog())
	r.setHealth(ProviderHealth{ProviderID: "mistral-edge", Status: StatusDown, ErrorRate: 100})

	// Down providers still pass the filter but rank below healthy ones.
	d, err := r.BestProvider(Requirements{PreferEdge: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID == "mistral-edge" {
		t.Errorf("down provider should not rank first, got %s", d.ID)
	}
}

func TestRegistry_CheckRateLimit_FixedWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := NewRegistry(testCatalog(), WithClock(clock))

	// Limit is 2 requests per minute.
	if err := r.CheckRateLimit("mistral-edge", 10); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := r.CheckRateLimit("mistral-edge", 10); err != nil {
		t.Fatalf("second request should pass: %v", err)
	}

	err := r.CheckRateLimit("mistral-edge", 10)
	var rateErr *errors.RateLimitError
	if !stderrors.As(err, &rateErr) {
		t.Fatalf("third request should be rate limited, got %v", err)
	}
	if !rateErr.ResetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("expected reset at %v, got %v", now.Add(time.Minute), rateErr.ResetAt)
	}

	// Window expiry resets both counters.
	now = now.Add(61 * time.Second)
	if err := r.CheckRateLimit("mistral-edge", 10); err != nil {
		t.Fatalf("request after window reset should pass: %v", err)
	}
}

func TestRegistry_CheckRateLimit_Tokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(nil, WithClock(func() time.Time { return now }))
	if err := r.Register(ProviderDescriptor{
		ID:         "tiny",
		Type:       ProviderTypeEdge,
		Enabled:    true,
		RateLimits: RateLimits{RequestsPerMinute: 100, TokensPerMinute: 1000},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.CheckRateLimit("tiny", 900); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.CheckRateLimit("tiny", 200)
	var rateErr *errors.RateLimitError
	if !stderrors.As(err, &rateErr) {
		t.Fatalf("expected token rate limit, got %v", err)
	}
}

func TestRegistry_EstimateCost(t *testing.T) {
	r := NewRegistry(testCatalog())

	cost, err := r.EstimateCost("openai-gpt4", "gpt-4o", 1000, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 0.005 + 0.5*0.015
	if cost != want {
		t.Errorf("expected %.6f, got %.6f", want, cost)
	}

	edge, err := r.EstimateCost("mistral-edge", "mistral-7b-instruct", 5000, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edge != 0 {
		t.Errorf("edge provider should cost nothing, got %.6f", edge)
	}

	if _, err := r.EstimateCost("openai-gpt4", "unknown-model", 1, 1); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(ProviderDescriptor{Type: ProviderTypeEdge}); err == nil {
		t.Error("expected error for missing ID")
	}
	if err := r.Register(ProviderDescriptor{ID: "x", Type: "serverless"}); err == nil {
		t.Error("expected error for unknown type")
	}
	if err := r.Register(ProviderDescriptor{ID: "x", Type: ProviderTypeCloud}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
