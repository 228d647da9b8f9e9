package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthMonitor_EdgeProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry([]ProviderDescriptor{{
		ID:      "edge",
		Type:    ProviderTypeEdge,
		Enabled: true,
		Config:  ConnectionConfig{BaseURL: srv.URL, HealthEndpoint: "/health"},
	}})
	m := NewHealthMonitor(r)
	m.CheckAll(context.Background())

	h, err := r.Health("edge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s (%s)", h.Status, h.Detail)
	}
	if h.Latency <= 0 {
		t.Error("expected a measured latency")
	}
}

func TestHealthMonitor_EdgeProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry([]ProviderDescriptor{{
		ID:      "edge",
		Type:    ProviderTypeEdge,
		Enabled: true,
		Config:  ConnectionConfig{BaseURL: srv.URL, HealthEndpoint: "/health"},
	}})
	m := NewHealthMonitor(r)
	m.CheckAll(context.Background())

	h, _ := r.Health("edge")
	if h.Status != StatusDown {
		t.Errorf("expected down on 500, got %s", h.Status)
	}
	if h.ErrorRate != 100 {
		t.Errorf("expected error rate 100, got %.0f", h.ErrorRate)
	}
}

func TestHealthMonitor_EdgeProbeUnreachable(t *testing.T) {
	r := NewRegistry([]ProviderDescriptor{{
		ID:      "edge",
		Type:    ProviderTypeEdge,
		Enabled: true,
		Config:  ConnectionConfig{BaseURL: "http://127.0.0.1:1", HealthEndpoint: "/health"},
	}})
	m := NewHealthMonitor(r)
	m.CheckAll(context.Background())

	h, _ := r.Health("edge")
	if h.Status != StatusDown {
		t.Errorf("expected down on connection error, got %s", h.Status)
	}
	if h.Detail == "" {
		t.Error("expected probe error detail")
	}
}

func TestHealthMonitor_CloudCredentialCheck(t *testing.T) {
	r := NewRegistry([]ProviderDescriptor{
		{
			ID:      "with-key",
			Type:    ProviderTypeCloud,
			Enabled: true,
			Config:  ConnectionConfig{APIKey: "sk-test"},
		},
		{
			ID:      "without-key",
			Type:    ProviderTypeCloud,
			Enabled: true,
		},
	})
	m := NewHealthMonitor(r)
	m.CheckAll(context.Background())

	if h, _ := r.Health("with-key"); h.Status != StatusHealthy {
		t.Errorf("provider with key should be healthy, got %s", h.Status)
	}
	if h, _ := r.Health("without-key"); h.Status != StatusDown {
		t.Errorf("provider without key should be down, got %s", h.Status)
	}
}
