package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// healthProbeTimeout bounds a single edge probe.
	healthProbeTimeout = 5 * time.Second

	// healthCheckInterval is how often the monitor re-probes all providers.
	healthCheckInterval = 30 * time.Second
)

// HealthMonitor periodically probes providers and stores results in the
// registry. Edge providers get a live HTTP probe against their health
// endpoint; cloud providers are checked for credential presence only.
type HealthMonitor struct {
	registry *Registry
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithHTTPClient overrides the probe HTTP client.
func WithHTTPClient(c *http.Client) MonitorOption {
	return func(m *HealthMonitor) { m.client = c }
}

// WithInterval overrides the probe interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) { m.interval = d }
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *HealthMonitor) { m.logger = logger }
}

// NewHealthMonitor creates a monitor for the given registry.
func NewHealthMonitor(registry *Registry, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		registry: registry,
		client:   &http.Client{Timeout: healthProbeTimeout},
		logger:   slog.Default(),
		interval: healthCheckInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAll probes every registered provider concurrently and stores the
// results. It returns once all probes finish.
func (m *HealthMonitor) CheckAll(ctx context.Context) {
	providers := m.registry.AllProviders()
	var wg sync.WaitGroup
	for _, d := range providers {
		wg.Add(1)
		go func(d ProviderDescriptor) {
			defer wg.Done()
			m.registry.setHealth(m.check(ctx, d))
		}(d)
	}
	wg.Wait()
}

// Run probes all providers on a fixed interval until the context is
// cancelled. An initial pass runs immediately.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.CheckAll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// Schedule registers the monitor on a cron scheduler using the given spec.
// The caller owns starting and stopping the scheduler.
func (m *HealthMonitor) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()
		m.CheckAll(ctx)
	})
}

func (m *HealthMonitor) check(ctx context.Context, d ProviderDescriptor) ProviderHealth {
	switch d.Type {
	case ProviderTypeEdge:
		return m.probeEdge(ctx, d)
	default:
		return m.checkCloud(d)
	}
}

// probeEdge issues a GET against the provider's health endpoint. Any
// transport error or non-2xx status marks the provider down with a 100%
// error rate.
func (m *HealthMonitor) probeEdge(ctx context.Context, d ProviderDescriptor) ProviderHealth {
	h := ProviderHealth{ProviderID: d.ID, LastCheck: time.Now()}
	if d.Config.HealthEndpoint == "" {
		h.Status = StatusHealthy
		h.Detail = "no health endpoint configured"
		return h
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	url := d.Config.BaseURL + d.Config.HealthEndpoint
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		h.Status = StatusDown
		h.ErrorRate = 100
		h.Detail = err.Error()
		return h
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	h.Latency = time.Since(start)
	if err != nil {
		h.Status = StatusDown
		h.ErrorRate = 100
		h.Detail = err.Error()
		return h
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.Status = StatusDown
		h.ErrorRate = 100
		h.Detail = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
		return h
	}

	h.Status = StatusHealthy
	return h
}

// checkCloud verifies credential presence without spending a billable call.
func (m *HealthMonitor) checkCloud(d ProviderDescriptor) ProviderHealth {
	h := ProviderHealth{ProviderID: d.ID, LastCheck: time.Now()}
	if d.Config.APIKey == "" {
		h.Status = StatusDown
		h.ErrorRate = 100
		h.Detail = "missing API key"
		return h
	}
	h.Status = StatusHealthy
	return h
}
