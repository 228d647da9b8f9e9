package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quentra/playbook/internal/log"
	"github.com/quentra/playbook/internal/metrics"
	"github.com/quentra/playbook/pkg/errors"
)

var routerTracer = otel.Tracer("github.com/quentra/playbook/pkg/llm")

// CostGuard validates spend before a request and records actual usage after.
// The budget package provides the production implementation.
type CostGuard interface {
	// ValidateRequest checks an estimated cost against the org's limits.
	// A non-nil error rejects the request before any provider is called.
	ValidateRequest(ctx context.Context, orgID string, estimatedCostEUR float64, provider, model string) error

	// RecordUsage accrues actual spend. It is called exactly once per
	// logical request that reached a provider, fallback included.
	RecordUsage(ctx context.Context, usage Usage) error
}

// Usage is the accounting record for one completed (or attempted) request.
type Usage struct {
	RequestID    string
	OrgID        string
	UserID       string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostEUR      float64
	Latency      time.Duration
	Success      bool

	// ErrorType is the advisory error category for failed requests.
	ErrorType string

	Timestamp time.Time
}

// Request is a routed generation request.
type Request struct {
	OrgID  string
	UserID string
	Prompt string

	// Model pins a specific model when the selected provider serves it.
	Model string

	// TaskType is a free-form label carried into logs and metrics.
	TaskType string

	// ProviderHint pins a specific provider when it is healthy.
	ProviderHint string

	// Language is the ISO code of the prompt language, used when the
	// router has to search for a provider beyond the configured pair.
	Language string

	// Sensitivity marks data that should stay on edge infrastructure
	// when possible ("high" pins the edge preference).
	Sensitivity string

	// MaxCostEUR caps the estimated cost of this single request. Zero means
	// the router default applies.
	MaxCostEUR float64

	// MaxTokens caps the completion length. Zero means the router default.
	MaxTokens int

	Temperature float64
}

// TokensUsed reports the token split of a response.
type TokensUsed struct {
	Input  int
	Output int
}

// Response is the routed result.
type Response struct {
	RequestID    string
	Content      string
	Provider     string
	Model        string
	TokensUsed   TokensUsed
	CostEUR      float64
	Latency      time.Duration
	FallbackUsed bool
}

// RouterConfig tunes routing defaults.
type RouterConfig struct {
	// PrimaryProvider is tried first when no hint is given.
	PrimaryProvider string

	// FallbackProvider receives the single retry. Empty means the registry
	// picks the cheapest healthy provider excluding the primary.
	FallbackProvider string

	// DefaultMaxCostEUR caps requests that do not set their own cap.
	DefaultMaxCostEUR float64

	// DefaultMaxTokens is the completion cap when the request sets none.
	DefaultMaxTokens int
}

// DefaultRouterConfig routes to the edge gateway first.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		PrimaryProvider:   "mistral-edge",
		DefaultMaxCostEUR: 0.50,
		DefaultMaxTokens:  1024,
	}
}

// Router sends generation requests to the best available provider with
// budget validation before and usage accounting after every attempt chain.
type Router struct {
	registry *Registry
	guard    CostGuard
	factory  ClientFactory
	config   RouterConfig
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClientFactory overrides how provider clients are built.
func WithClientFactory(f ClientFactory) RouterOption {
	return func(r *Router) { r.factory = f }
}

// WithRouterLogger sets the router logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// NewRouter creates a router over the given registry and cost guard.
func NewRouter(registry *Registry, guard CostGuard, config RouterConfig, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		guard:    guard,
		factory:  DefaultClientFactory,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EstimateTokens approximates the token count of a prompt at four
// characters per token, rounding up.
func EstimateTokens(prompt string) int {
	if prompt == "" {
		return 0
	}
	return (len(prompt) + 3) / 4
}

// RouteRequest validates the request against the org budget, sends it to
// the primary candidate, retries once on the fallback candidate, and
// records actual usage exactly once.
func (r *Router) RouteRequest(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.New().String()

	ctx, span := routerTracer.Start(ctx, "llm.route", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("org.id", req.OrgID),
		attribute.String("task.type", req.TaskType),
	))
	defer span.End()

	logger := r.logger.With(log.RequestIDKey, requestID, log.OrgIDKey, req.OrgID)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.config.DefaultMaxTokens
	}
	maxCost := req.MaxCostEUR
	if maxCost <= 0 {
		maxCost = r.config.DefaultMaxCostEUR
	}
	inputEstimate := EstimateTokens(req.Prompt)

	primary, fallback, err := r.candidates(req)
	if err != nil {
		metrics.RecordAIError(req.OrgID, "none", errors.Classify(err))
		return nil, err
	}

	primaryModel, primaryCost, err := r.estimate(primary, req, inputEstimate, maxTokens)
	if err != nil {
		return nil, err
	}

	if primaryCost > maxCost {
		err := &errors.BudgetError{
			OrgID:       req.OrgID,
			Period:      errors.PeriodRequest,
			Reason:      fmt.Sprintf("estimated cost %.4f EUR exceeds request cap %.4f EUR", primaryCost, maxCost),
			CurrentCost: primaryCost,
			Limit:       maxCost,
		}
		metrics.RecordAIError(req.OrgID, primary.ID, errors.Classify(err))
		return nil, err
	}

	if err := r.guard.ValidateRequest(ctx, req.OrgID, primaryCost, primary.ID, primaryModel.ID); err != nil {
		logger.Warn("request rejected by budget",
			log.ProviderKey, primary.ID,
			"estimated_cost_eur", primaryCost,
			"reason", err.Error())
		metrics.RecordAIError(req.OrgID, primary.ID, errors.Classify(err))
		return nil, err
	}

	start := time.Now()
	resp, primaryErr := r.attempt(ctx, primary, primaryModel, req, inputEstimate, maxTokens)
	if primaryErr == nil {
		resp.RequestID = requestID
		resp.Latency = time.Since(start)
		r.finish(ctx, req, resp, logger, false)
		span.SetAttributes(attribute.String("provider", resp.Provider))
		return resp, nil
	}

	category := errors.Classify(primaryErr)
	metrics.RecordAIError(req.OrgID, primary.ID, category)
	logger.Warn("primary provider failed",
		log.ProviderKey, primary.ID,
		"category", category,
		"error", primaryErr.Error())

	if fallback == nil {
		err := errors.Wrapf(primaryErr, "provider %s failed and no fallback is available", primary.ID)
		r.recordFailure(ctx, req, requestID, primary.ID, primaryModel.ID, time.Since(start), err, logger)
		return nil, err
	}

	fallbackModel, fallbackCost, err := r.estimate(*fallback, req, inputEstimate, maxTokens)
	if err != nil {
		err := errors.Wrapf(primaryErr, "provider %s failed and fallback %s has no usable model", primary.ID, fallback.ID)
		r.recordFailure(ctx, req, requestID, primary.ID, primaryModel.ID, time.Since(start), err, logger)
		return nil, err
	}
	if fallbackCost > maxCost {
		err := errors.Wrapf(primaryErr, "provider %s failed and fallback %s exceeds the request cost cap", primary.ID, fallback.ID)
		r.recordFailure(ctx, req, requestID, primary.ID, primaryModel.ID, time.Since(start), err, logger)
		return nil, err
	}

	resp, fallbackErr := r.attempt(ctx, *fallback, fallbackModel, req, inputEstimate, maxTokens)
	if fallbackErr != nil {
		metrics.RecordAIError(req.OrgID, fallback.ID, errors.Classify(fallbackErr))
		err := fmt.Errorf("all providers failed: %s: %w; %s: %v",
			primary.ID, primaryErr, fallback.ID, fallbackErr)
		r.recordFailure(ctx, req, requestID, fallback.ID, fallbackModel.ID, time.Since(start), err, logger)
		return nil, err
	}

	resp.RequestID = requestID
	resp.FallbackUsed = true
	resp.Latency = time.Since(start)
	r.finish(ctx, req, resp, logger, true)
	span.SetAttributes(
		attribute.String("provider", resp.Provider),
		attribute.Bool("fallback.used", true),
	)
	return resp, nil
}

// candidates resolves the primary and fallback descriptors. A provider hint
// wins when the hinted provider exists and is not down; otherwise the
// configured primary is used, and the configured (or cheapest other
// healthy) provider backs it up.
func (r *Router) candidates(req Request) (ProviderDescriptor, *ProviderDescriptor, error) {
	pick := func(id string) (ProviderDescriptor, bool) {
		d, err := r.registry.Provider(id)
		if err != nil || !d.Enabled || r.isDown(id) {
			return ProviderDescriptor{}, false
		}
		return d, true
	}

	var primary ProviderDescriptor
	var ok bool
	if req.ProviderHint != "" {
		primary, ok = pick(req.ProviderHint)
	}
	if !ok {
		primary, ok = pick(r.config.PrimaryProvider)
	}
	if !ok {
		reqs := Requirements{PreferEdge: true}
		if req.Language != "" {
			reqs.Languages = []string{req.Language}
		}
		// BestProvider only ranks down providers last; a down winner
		// means nothing usable is left.
		best, err := r.registry.BestProvider(reqs)
		if err != nil || r.isDown(best.ID) {
			return ProviderDescriptor{}, nil, errors.ErrNoHealthyProviders
		}
		primary = best
	}

	// High-sensitivity data stays on the edge: no cloud fallback.
	if req.Sensitivity == "high" && primary.Type == ProviderTypeEdge {
		return primary, nil, nil
	}

	if r.config.FallbackProvider != "" && r.config.FallbackProvider != primary.ID {
		if d, ok := pick(r.config.FallbackProvider); ok {
			return primary, &d, nil
		}
	}
	best, err := r.registry.BestProvider(Requirements{ExcludeProviders: []string{primary.ID}})
	if err != nil || r.isDown(best.ID) {
		return primary, nil, nil
	}
	return primary, &best, nil
}

// isDown reports whether the provider's last health check marked it down.
func (r *Router) isDown(id string) bool {
	h, err := r.registry.Health(id)
	return err == nil && h.Status == StatusDown
}

// estimate resolves the model to use on a provider and prices the request.
// The request's pinned model is used when the provider serves it; otherwise
// the provider default applies.
func (r *Router) estimate(d ProviderDescriptor, req Request, inputTokens, maxTokens int) (Model, float64, error) {
	model, ok := Model{}, false
	if req.Model != "" {
		model, ok = d.Model(req.Model)
	}
	if !ok {
		model, ok = d.DefaultModel()
	}
	if !ok {
		return Model{}, 0, &errors.NotFoundError{Resource: "model", ID: d.ID + "/default"}
	}
	cost, err := r.registry.EstimateCost(d.ID, model.ID, inputTokens, maxTokens)
	if err != nil {
		return Model{}, 0, err
	}
	return model, cost, nil
}

// attempt sends one request to one provider, enforcing its rate limit.
func (r *Router) attempt(ctx context.Context, d ProviderDescriptor, model Model, req Request, inputEstimate, maxTokens int) (*Response, error) {
	if err := r.registry.CheckRateLimit(d.ID, inputEstimate+maxTokens); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := r.factory(d).Generate(ctx, GenerateRequest{
		Model:       model.ID,
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	inputTokens := out.InputTokens
	if inputTokens == 0 {
		inputTokens = inputEstimate
	}
	outputTokens := out.OutputTokens
	if outputTokens == 0 {
		outputTokens = EstimateTokens(out.Content)
	}

	cost, err := r.registry.EstimateCost(d.ID, model.ID, inputTokens, outputTokens)
	if err != nil {
		cost = 0
	}

	metrics.ObserveAILatency(d.ID, model.ID, latency.Seconds())
	return &Response{
		Content:    out.Content,
		Provider:   d.ID,
		Model:      model.ID,
		TokensUsed: TokensUsed{Input: inputTokens, Output: outputTokens},
		CostEUR:    cost,
		Latency:    latency,
	}, nil
}

// finish records usage and request metrics for a successful route.
func (r *Router) finish(ctx context.Context, req Request, resp *Response, logger *slog.Logger, fallback bool) {
	usage := Usage{
		RequestID:    resp.RequestID,
		OrgID:        req.OrgID,
		UserID:       req.UserID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.TokensUsed.Input,
		OutputTokens: resp.TokensUsed.Output,
		CostEUR:      resp.CostEUR,
		Latency:      resp.Latency,
		Success:      true,
		Timestamp:    time.Now(),
	}
	if err := r.guard.RecordUsage(ctx, usage); err != nil {
		logger.Error("failed to record usage",
			log.ProviderKey, resp.Provider,
			"error", err.Error())
	}
	metrics.RecordAIRequest(req.OrgID, resp.Provider, resp.Model, fallback)
	logger.Info("request routed",
		log.ProviderKey, resp.Provider,
		log.ModelKey, resp.Model,
		"cost_eur", resp.CostEUR,
		"fallback_used", fallback,
		log.DurationKey, resp.Latency.Milliseconds())
}

// recordFailure books a failed logical request once no attempt can succeed.
// Failed attempts report no token counts, so cost is zero; the record
// exists for diagnostics and error accounting.
func (r *Router) recordFailure(ctx context.Context, req Request, requestID, provider, model string, latency time.Duration, cause error, logger *slog.Logger) {
	usage := Usage{
		RequestID: requestID,
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		Provider:  provider,
		Model:     model,
		Latency:   latency,
		Success:   false,
		ErrorType: errors.Classify(cause),
		Timestamp: time.Now(),
	}
	if err := r.guard.RecordUsage(ctx, usage); err != nil {
		logger.Error("failed to record usage",
			log.ProviderKey, provider,
			"error", err.Error())
	}
}
