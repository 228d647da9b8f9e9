// Package budget enforces AI spend limits per organization. Requests are
// validated before any provider is called; actual usage is accrued
// afterwards, unconditionally, so the books always reflect real spend.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quentra/playbook/internal/log"
	"github.com/quentra/playbook/internal/metrics"
	"github.com/quentra/playbook/pkg/errors"
	"github.com/quentra/playbook/pkg/llm"
)

// Rejection reasons. Callers match on these strings, so they are stable.
const (
	ReasonEmergencyStop = "Emergency stop activated"
	ReasonPerRequest    = "Request cost exceeds per-request limit"
	ReasonDaily         = "Daily limit would be exceeded"
	ReasonMonthly       = "Monthly limit would be exceeded"
)

// WarningThresholds are the utilization percentages (0-100) at which a
// non-blocking warning alert fires for each period.
type WarningThresholds struct {
	DailyPct   float64 `yaml:"daily_pct"`
	MonthlyPct float64 `yaml:"monthly_pct"`
}

// EmergencyStop halts all requests for an org once its monthly spend
// reaches the threshold.
type EmergencyStop struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdEUR float64 `yaml:"threshold_eur"`
}

// CostLimits are the spend ceilings for one organization, in EUR.
type CostLimits struct {
	// PerRequestLimitEUR caps a single request's estimated cost.
	PerRequestLimitEUR float64 `yaml:"per_request_limit_eur"`

	// DailyLimitEUR caps spend within the current day.
	DailyLimitEUR float64 `yaml:"daily_limit_eur"`

	// MonthlyLimitEUR caps spend within the current month.
	MonthlyLimitEUR float64 `yaml:"monthly_limit_eur"`

	WarningThresholds WarningThresholds `yaml:"warning_thresholds"`

	EmergencyStop EmergencyStop `yaml:"emergency_stop"`
}

// DefaultCostLimits are applied to organizations without explicit limits.
func DefaultCostLimits() CostLimits {
	return CostLimits{
		PerRequestLimitEUR: 0.50,
		DailyLimitEUR:      5.00,
		MonthlyLimitEUR:    100.00,
		WarningThresholds:  WarningThresholds{DailyPct: 80, MonthlyPct: 80},
		EmergencyStop:      EmergencyStop{Enabled: true, ThresholdEUR: 150.00},
	}
}

// AlertType classifies a budget alert.
type AlertType string

const (
	AlertWarning       AlertType = "warning"
	AlertLimitExceeded AlertType = "limit_exceeded"
	AlertEmergencyStop AlertType = "emergency_stop"
)

// Alert is delivered to registered handlers when a check rejects a request
// or projected spend crosses a warning threshold.
type Alert struct {
	Type        AlertType
	OrgID       string
	CurrentCost float64
	Limit       float64
	Period      errors.BudgetPeriod
	Timestamp   time.Time
	Message     string
}

// AlertHandler receives budget alerts. Handlers run synchronously on the
// validation and accounting paths; a panicking handler is recovered and
// logged so it cannot break spend tracking.
type AlertHandler func(Alert)

// orgSpend holds the running period totals. Totals only grow; they are
// zeroed exclusively by the explicit reset operations.
type orgSpend struct {
	daily   float64
	monthly float64
}

// Guardrails validates and accounts AI spend per organization.
type Guardrails struct {
	mu        sync.Mutex
	defaults  CostLimits
	overrides map[string]CostLimits
	spend     map[string]*orgSpend
	history   HistoryStore
	handlers  []AlertHandler
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures Guardrails.
type Option func(*Guardrails)

// WithHistory sets the usage history store.
func WithHistory(store HistoryStore) Option {
	return func(g *Guardrails) { g.history = store }
}

// WithLogger sets the guardrails logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guardrails) { g.logger = logger }
}

// WithClock overrides the guardrails clock.
func WithClock(now func() time.Time) Option {
	return func(g *Guardrails) { g.now = now }
}

// WithAlertHandler registers an alert handler. May be given multiple times.
func WithAlertHandler(h AlertHandler) Option {
	return func(g *Guardrails) { g.handlers = append(g.handlers, h) }
}

// New creates guardrails with the given default limits.
func New(defaults CostLimits, opts ...Option) *Guardrails {
	g := &Guardrails{
		defaults:  defaults,
		overrides: make(map[string]CostLimits),
		spend:     make(map[string]*orgSpend),
		history:   NewRingStore(DefaultRingCapacity),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetLimits installs per-organization limits, replacing any previous ones.
func (g *Guardrails) SetLimits(orgID string, limits CostLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides[orgID] = limits
}

// LimitsFor returns the effective limits for an organization.
func (g *Guardrails) LimitsFor(orgID string) CostLimits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limitsLocked(orgID)
}

func (g *Guardrails) limitsLocked(orgID string) CostLimits {
	if l, ok := g.overrides[orgID]; ok {
		return l
	}
	return g.defaults
}

func (g *Guardrails) spendLocked(orgID string) *orgSpend {
	s, ok := g.spend[orgID]
	if !ok {
		s = &orgSpend{}
		g.spend[orgID] = s
	}
	return s
}

// ValidateRequest checks an estimated cost against the organization's
// limits without accruing anything. Checks run in a fixed order and the
// first violated one rejects: emergency stop, per-request ceiling, daily
// ceiling, monthly ceiling. Every rejection publishes a matching alert;
// requests that pass may still publish a non-blocking warning when the
// projected utilization crosses a warning threshold. Validation never
// spends, so repeated calls with the same totals give the same answer.
func (g *Guardrails) ValidateRequest(ctx context.Context, orgID string, estimatedCostEUR float64, provider, model string) error {
	// The decision is taken under the lock; alerts are delivered after it
	// is released so handlers may safely call back into the guardrails.
	g.mu.Lock()
	alerts, err := g.checkLocked(orgID, estimatedCostEUR)
	g.mu.Unlock()

	for _, a := range alerts {
		g.emit(a)
	}
	return err
}

func (g *Guardrails) checkLocked(orgID string, estimatedCostEUR float64) ([]Alert, error) {
	limits := g.limitsLocked(orgID)
	s := g.spendLocked(orgID)

	if limits.EmergencyStop.Enabled && s.monthly >= limits.EmergencyStop.ThresholdEUR {
		return []Alert{{
				Type:        AlertEmergencyStop,
				OrgID:       orgID,
				CurrentCost: s.monthly,
				Limit:       limits.EmergencyStop.ThresholdEUR,
				Period:      errors.PeriodMonthly,
				Timestamp:   g.now(),
				Message:     ReasonEmergencyStop,
			}}, &errors.BudgetError{
				OrgID:       orgID,
				Period:      errors.PeriodMonthly,
				Reason:      ReasonEmergencyStop,
				CurrentCost: s.monthly,
				Limit:       limits.EmergencyStop.ThresholdEUR,
			}
	}

	if limits.PerRequestLimitEUR > 0 && estimatedCostEUR > limits.PerRequestLimitEUR {
		return []Alert{{
				Type:        AlertLimitExceeded,
				OrgID:       orgID,
				CurrentCost: estimatedCostEUR,
				Limit:       limits.PerRequestLimitEUR,
				Period:      errors.PeriodRequest,
				Timestamp:   g.now(),
				Message:     ReasonPerRequest,
			}}, &errors.BudgetError{
				OrgID:       orgID,
				Period:      errors.PeriodRequest,
				Reason:      ReasonPerRequest,
				CurrentCost: estimatedCostEUR,
				Limit:       limits.PerRequestLimitEUR,
			}
	}

	if limits.DailyLimitEUR > 0 && s.daily+estimatedCostEUR > limits.DailyLimitEUR {
		return []Alert{{
				Type:        AlertLimitExceeded,
				OrgID:       orgID,
				CurrentCost: s.daily,
				Limit:       limits.DailyLimitEUR,
				Period:      errors.PeriodDaily,
				Timestamp:   g.now(),
				Message:     ReasonDaily,
			}}, &errors.BudgetError{
				OrgID:       orgID,
				Period:      errors.PeriodDaily,
				Reason:      ReasonDaily,
				CurrentCost: s.daily,
				Limit:       limits.DailyLimitEUR,
			}
	}

	if limits.MonthlyLimitEUR > 0 && s.monthly+estimatedCostEUR > limits.MonthlyLimitEUR {
		return []Alert{{
				Type:        AlertLimitExceeded,
				OrgID:       orgID,
				CurrentCost: s.monthly,
				Limit:       limits.MonthlyLimitEUR,
				Period:      errors.PeriodMonthly,
				Timestamp:   g.now(),
				Message:     ReasonMonthly,
			}}, &errors.BudgetError{
				OrgID:       orgID,
				Period:      errors.PeriodMonthly,
				Reason:      ReasonMonthly,
				CurrentCost: s.monthly,
				Limit:       limits.MonthlyLimitEUR,
			}
	}

	return g.warnings(orgID, limits, s, estimatedCostEUR), nil
}

// RecordUsage accrues actual spend. Accrual is unconditional: failed calls
// that still incurred token cost are booked in full, so counters never
// understate real spend. The history append is best-effort; a store
// failure is logged and returned but the counters are already updated.
func (g *Guardrails) RecordUsage(ctx context.Context, usage llm.Usage) error {
	g.mu.Lock()
	s := g.spendLocked(usage.OrgID)
	s.daily += usage.CostEUR
	s.monthly += usage.CostEUR
	daily, monthly := s.daily, s.monthly
	g.mu.Unlock()

	metrics.SetPeriodCost(usage.OrgID, string(errors.PeriodDaily), daily)
	metrics.SetPeriodCost(usage.OrgID, string(errors.PeriodMonthly), monthly)
	metrics.RecordTokens(usage.OrgID, usage.Provider, usage.Model, usage.InputTokens, usage.OutputTokens)
	if !usage.Success {
		category := usage.ErrorType
		if category == "" {
			category = errors.CategoryUnknown
		}
		metrics.RecordAIError(usage.OrgID, usage.Provider, category)
	}

	g.logger.Debug("usage recorded",
		log.OrgIDKey, usage.OrgID,
		log.ProviderKey, usage.Provider,
		"cost_eur", usage.CostEUR,
		"daily_total_eur", daily)

	if err := g.history.Append(ctx, usage); err != nil {
		g.logger.Error("failed to append usage history",
			log.OrgIDKey, usage.OrgID,
			"error", err.Error())
		return errors.Wrap(err, "appending usage history")
	}
	return nil
}

// warnings collects a warning per period whose projected utilization
// crosses its configured threshold. Warnings never block.
func (g *Guardrails) warnings(orgID string, limits CostLimits, s *orgSpend, pending float64) []Alert {
	var out []Alert
	if limits.DailyLimitEUR > 0 && limits.WarningThresholds.DailyPct > 0 {
		pct := (s.daily + pending) / limits.DailyLimitEUR * 100
		if pct >= limits.WarningThresholds.DailyPct {
			out = append(out, Alert{
				Type:        AlertWarning,
				OrgID:       orgID,
				CurrentCost: s.daily,
				Limit:       limits.DailyLimitEUR,
				Period:      errors.PeriodDaily,
				Timestamp:   g.now(),
				Message:     fmt.Sprintf("daily spend projected at %.0f%% of limit", pct),
			})
		}
	}
	if limits.MonthlyLimitEUR > 0 && limits.WarningThresholds.MonthlyPct > 0 {
		pct := (s.monthly + pending) / limits.MonthlyLimitEUR * 100
		if pct >= limits.WarningThresholds.MonthlyPct {
			out = append(out, Alert{
				Type:        AlertWarning,
				OrgID:       orgID,
				CurrentCost: s.monthly,
				Limit:       limits.MonthlyLimitEUR,
				Period:      errors.PeriodMonthly,
				Timestamp:   g.now(),
				Message:     fmt.Sprintf("monthly spend projected at %.0f%% of limit", pct),
			})
		}
	}
	return out
}

// emit delivers an alert to all handlers. Called without g.mu held, so
// handlers may read guardrails state. Handler panics are recovered so
// alerting can never corrupt the accounting path.
func (g *Guardrails) emit(alert Alert) {
	metrics.RecordBudgetAlert(alert.OrgID, string(alert.Type), string(alert.Period))
	g.logger.Warn("budget alert",
		log.OrgIDKey, alert.OrgID,
		"alert_type", string(alert.Type),
		"period", string(alert.Period),
		"current_eur", alert.CurrentCost,
		"limit_eur", alert.Limit,
		"message", alert.Message)

	for _, h := range g.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("alert handler panicked",
						log.OrgIDKey, alert.OrgID,
						"panic", fmt.Sprint(r))
				}
			}()
			h(alert)
		}()
	}
}

// ResetDaily zeroes the daily counter for every org. Period rollovers are
// explicit: the guardrails never reset themselves, a scheduler invokes
// this at the period boundary.
func (g *Guardrails) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for orgID, s := range g.spend {
		s.daily = 0
		metrics.SetPeriodCost(orgID, string(errors.PeriodDaily), 0)
	}
	g.logger.Info("daily budget counters reset")
}

// ResetMonthly zeroes the monthly counter for every org.
func (g *Guardrails) ResetMonthly() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for orgID, s := range g.spend {
		s.monthly = 0
		metrics.SetPeriodCost(orgID, string(errors.PeriodMonthly), 0)
	}
	g.logger.Info("monthly budget counters reset")
}

// Summary reports an organization's current spend against its limits.
type Summary struct {
	OrgID           string
	DailySpendEUR   float64
	MonthlySpendEUR float64
	Limits          CostLimits
}

// Summarize returns the current spend snapshot for an organization.
func (g *Guardrails) Summarize(orgID string) Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.spendLocked(orgID)
	return Summary{
		OrgID:           orgID,
		DailySpendEUR:   s.daily,
		MonthlySpendEUR: s.monthly,
		Limits:          g.limitsLocked(orgID),
	}
}
