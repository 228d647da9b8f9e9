package llm

import (
	"os"
	"time"
)

// DefaultCatalog returns the built-in provider descriptors. Edge providers
// are always present; cloud providers are included only when their
// credentials are set in the environment. Azure additionally requires its
// endpoint.
func DefaultCatalog() []ProviderDescriptor {
	catalog := []ProviderDescriptor{
		{
			ID:      "mistral-edge",
			Name:    "Mistral Edge (Self-hosted)",
			Type:    ProviderTypeEdge,
			Enabled: true,
			Models: []Model{
				{
					ID:              "mistral-7b-instruct",
					Name:            "Mistral 7B Instruct",
					ContextWindow:   8192,
					InputCostPer1K:  0,
					OutputCostPer1K: 0,
					MaxOutputTokens: 4096,
					Capabilities:    []string{"text-generation", "conversation", "analysis"},
				},
				{
					ID:              "mixtral-8x7b-instruct",
					Name:            "Mixtral 8x7B Instruct",
					ContextWindow:   32768,
					InputCostPer1K:  0,
					OutputCostPer1K: 0,
					MaxOutputTokens: 8192,
					Capabilities:    []string{"text-generation", "conversation", "analysis", "code-generation"},
				},
			},
			RateLimits: RateLimits{
				RequestsPerMinute: 120,
				RequestsPerDay:    10000,
				TokensPerMinute:   100000,
				TokensPerDay:      2000000,
			},
			Capabilities: CapabilityFlags{
				FunctionCalling: false,
				Vision:          false,
				Streaming:       true,
				Embeddings:      false,
				Languages:       []string{"en", "fr", "de", "es", "it"},
				MaxConcurrent:   10,
			},
			Config: ConnectionConfig{
				BaseURL:        envOr("MISTRAL_EDGE_URL", "http://localhost:8080"),
				HealthEndpoint: "/health",
				Timeout:        30 * time.Second,
				RetryAttempts:  2,
			},
		},
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		catalog = append(catalog, ProviderDescriptor{
			ID:      "openai-gpt4",
			Name:    "OpenAI GPT-4",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{
					ID:              "gpt-4o",
					Name:            "GPT-4 Omni",
					ContextWindow:   128000,
					InputCostPer1K:  0.005,
					OutputCostPer1K: 0.015,
					MaxOutputTokens: 4096,
					Capabilities:    []string{"text-generation", "conversation", "analysis", "code-generation", "vision"},
				},
				{
					ID:              "gpt-4o-mini",
					Name:            "GPT-4 Omni Mini",
					ContextWindow:   128000,
					InputCostPer1K:  0.00015,
					OutputCostPer1K: 0.0006,
					MaxOutputTokens: 16384,
					Capabilities:    []string{"text-generation", "conversation", "analysis"},
				},
			},
			RateLimits: RateLimits{
				RequestsPerMinute: 500,
				RequestsPerDay:    10000,
				TokensPerMinute:   30000,
				TokensPerDay:      1000000,
			},
			Capabilities: CapabilityFlags{
				FunctionCalling: true,
				Vision:          true,
				Streaming:       true,
				Embeddings:      false,
				Languages:       []string{"en", "fr", "de", "es", "it", "pt", "nl", "pl"},
				MaxConcurrent:   20,
			},
			Config: ConnectionConfig{
				BaseURL:       "https://api.openai.com/v1",
				APIKey:        key,
				Timeout:       60 * time.Second,
				RetryAttempts: 3,
			},
		})
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		catalog = append(catalog, ProviderDescriptor{
			ID:      "anthropic-claude",
			Name:    "Anthropic Claude",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{
					ID:              "claude-3-5-sonnet-20241022",
					Name:            "Claude 3.5 Sonnet",
					ContextWindow:   200000,
					InputCostPer1K:  0.003,
					OutputCostPer1K: 0.015,
					MaxOutputTokens: 8192,
					Capabilities:    []string{"text-generation", "conversation", "analysis", "code-generation", "vision"},
				},
				{
					ID:              "claude-3-haiku-20240307",
					Name:            "Claude 3 Haiku",
					ContextWindow:   200000,
					InputCostPer1K:  0.00025,
					OutputCostPer1K: 0.00125,
					MaxOutputTokens: 4096,
					Capabilities:    []string{"text-generation", "conversation", "analysis"},
				},
			},
			RateLimits: RateLimits{
				RequestsPerMinute: 50,
				RequestsPerDay:    5000,
				TokensPerMinute:   40000,
				TokensPerDay:      800000,
			},
			Capabilities: CapabilityFlags{
				FunctionCalling: true,
				Vision:          true,
				Streaming:       true,
				Embeddings:      false,
				Languages:       []string{"en", "fr", "de", "es", "it", "pt", "nl"},
				MaxConcurrent:   10,
			},
			Config: ConnectionConfig{
				BaseURL:       "https://api.anthropic.com/v1",
				APIKey:        key,
				Timeout:       60 * time.Second,
				RetryAttempts: 3,
			},
		})
	}

	if key := os.Getenv("GOOGLE_AI_API_KEY"); key != "" {
		catalog = append(catalog, ProviderDescriptor{
			ID:      "google-gemini",
			Name:    "Google Gemini",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{
					ID:              "gemini-1.5-pro",
					Name:            "Gemini 1.5 Pro",
					ContextWindow:   1000000,
					InputCostPer1K:  0.00125,
					OutputCostPer1K: 0.005,
					MaxOutputTokens: 8192,
					Capabilities:    []string{"text-generation", "conversation", "analysis", "code-generation", "vision"},
				},
				{
					ID:              "gemini-1.5-flash",
					Name:            "Gemini 1.5 Flash",
					ContextWindow:   1000000,
					InputCostPer1K:  0.000075,
					OutputCostPer1K: 0.0003,
					MaxOutputTokens: 8192,
					Capabilities:    []string{"text-generation", "conversation", "analysis"},
				},
			},
			RateLimits: RateLimits{
				RequestsPerMinute: 60,
				RequestsPerDay:    6000,
				TokensPerMinute:   60000,
				TokensPerDay:      1200000,
			},
			Capabilities: CapabilityFlags{
				FunctionCalling: true,
				Vision:          true,
				Streaming:       true,
				Embeddings:      true,
				Languages:       []string{"en", "fr", "de", "es", "it", "pt", "nl", "ja", "ko"},
				MaxConcurrent:   15,
			},
			Config: ConnectionConfig{
				BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
				APIKey:        key,
				Timeout:       60 * time.Second,
				RetryAttempts: 3,
			},
		})
	}

	if key, endpoint := os.Getenv("AZURE_OPENAI_API_KEY"), os.Getenv("AZURE_OPENAI_ENDPOINT"); key != "" && endpoint != "" {
		catalog = append(catalog, ProviderDescriptor{
			ID:      "azure-openai",
			Name:    "Azure OpenAI",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Models: []Model{
				{
					ID:              "gpt-4o",
					Name:            "GPT-4 Omni (Azure)",
					ContextWindow:   128000,
					InputCostPer1K:  0.005,
					OutputCostPer1K: 0.015,
					MaxOutputTokens: 4096,
					Capabilities:    []string{"text-generation", "conversation", "analysis", "code-generation", "vision"},
				},
			},
			RateLimits: RateLimits{
				RequestsPerMinute: 300,
				RequestsPerDay:    8000,
				TokensPerMinute:   40000,
				TokensPerDay:      900000,
			},
			Capabilities: CapabilityFlags{
				FunctionCalling: true,
				Vision:          true,
				Streaming:       true,
				Embeddings:      false,
				Languages:       []string{"en", "fr", "de", "es", "it", "pt", "nl"},
				MaxConcurrent:   20,
			},
			Config: ConnectionConfig{
				BaseURL:       endpoint,
				APIKey:        key,
				Timeout:       60 * time.Second,
				RetryAttempts: 3,
			},
		})
	}

	return catalog
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
