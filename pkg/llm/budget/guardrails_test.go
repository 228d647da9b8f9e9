package budget

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quentra/playbook/pkg/errors"
	"github.com/quentra/playbook/pkg/llm"
)

func usageFor(orgID string, cost float64) llm.Usage {
	return llm.Usage{
		RequestID: "req-1",
		OrgID:     orgID,
		Provider:  "openai-gpt4",
		Model:     "gpt-4o",
		CostEUR:   cost,
		Success:   true,
		Timestamp: time.Now(),
	}
}

func TestValidateRequest_DailyLimit(t *testing.T) {
	g := New(CostLimits{
		PerRequestLimitEUR: 5.0,
		DailyLimitEUR:      5.0,
		MonthlyLimitEUR:    100.0,
	})
	ctx := context.Background()

	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 4.0)))

	err := g.ValidateRequest(ctx, "org-1", 2.0, "openai-gpt4", "gpt-4o")
	var budgetErr *errors.BudgetError
	require.True(t, stderrors.As(err, &budgetErr))
	assert.Equal(t, "Daily limit would be exceeded", budgetErr.Reason)
	assert.Equal(t, errors.PeriodDaily, budgetErr.Period)
	assert.Equal(t, 4.0, budgetErr.CurrentCost)
	assert.Equal(t, 5.0, budgetErr.Limit)

	// A smaller request still fits.
	assert.NoError(t, g.ValidateRequest(ctx, "org-1", 0.5, "openai-gpt4", "gpt-4o"))
}

func TestValidateRequest_Idempotent(t *testing.T) {
	g := New(DefaultCostLimits())
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, g.ValidateRequest(ctx, "org-1", 0.10, "mistral-edge", "mistral-7b-instruct"))
	}
	// Validation alone never accrues spend.
	assert.Equal(t, 0.0, g.Summarize("org-1").DailySpendEUR)
}

func TestValidateRequest_EmergencyStopWinsCheckOrder(t *testing.T) {
	// Monthly spend is past the stop threshold AND the request exceeds the
	// per-request cap: the emergency stop must reject first.
	g := New(CostLimits{
		PerRequestLimitEUR: 0.50,
		DailyLimitEUR:      5.0,
		MonthlyLimitEUR:    100.0,
		EmergencyStop:      EmergencyStop{Enabled: true, ThresholdEUR: 3.0},
	})
	ctx := context.Background()
	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 3.0)))

	err := g.ValidateRequest(ctx, "org-1", 99.0, "openai-gpt4", "gpt-4o")
	var budgetErr *errors.BudgetError
	require.True(t, stderrors.As(err, &budgetErr))
	assert.Equal(t, ReasonEmergencyStop, budgetErr.Reason)
}

func TestValidateRequest_PerRequestCap(t *testing.T) {
	var alerts []Alert
	g := New(DefaultCostLimits(), WithAlertHandler(func(a Alert) { alerts = append(alerts, a) }))

	err := g.ValidateRequest(context.Background(), "org-1", 0.75, "openai-gpt4", "gpt-4o")
	var budgetErr *errors.BudgetError
	require.True(t, stderrors.As(err, &budgetErr))
	assert.Equal(t, ReasonPerRequest, budgetErr.Reason)
	assert.Equal(t, errors.PeriodRequest, budgetErr.Period)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLimitExceeded, alerts[0].Type)
	assert.Equal(t, errors.PeriodRequest, alerts[0].Period)
}

func TestValidateRequest_MonthlyLimit(t *testing.T) {
	g := New(CostLimits{
		PerRequestLimitEUR: 10.0,
		DailyLimitEUR:      50.0,
		MonthlyLimitEUR:    20.0,
	})
	ctx := context.Background()
	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 19.0)))
	// Daily rolled over at the boundary, monthly did not.
	g.ResetDaily()

	err := g.ValidateRequest(ctx, "org-1", 2.0, "openai-gpt4", "gpt-4o")
	var budgetErr *errors.BudgetError
	require.True(t, stderrors.As(err, &budgetErr))
	assert.Equal(t, ReasonMonthly, budgetErr.Reason)
}

func TestEmergencyStop_BlocksEverything(t *testing.T) {
	var alerts []Alert
	g := New(CostLimits{
		PerRequestLimitEUR: 1.0,
		DailyLimitEUR:      500.0,
		MonthlyLimitEUR:    1000.0,
		EmergencyStop:      EmergencyStop{Enabled: true, ThresholdEUR: 150.0},
	}, WithAlertHandler(func(a Alert) { alerts = append(alerts, a) }))
	ctx := context.Background()

	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 150.0)))

	// Even a free request is rejected once the stop engages.
	err := g.ValidateRequest(ctx, "org-1", 0, "mistral-edge", "mistral-7b-instruct")
	var budgetErr *errors.BudgetError
	require.True(t, stderrors.As(err, &budgetErr))
	assert.Equal(t, ReasonEmergencyStop, budgetErr.Reason)

	found := false
	for _, a := range alerts {
		if a.Type == AlertEmergencyStop {
			found = true
			assert.Equal(t, 150.0, a.CurrentCost)
			assert.Equal(t, 150.0, a.Limit)
		}
	}
	assert.True(t, found, "expected an emergency_stop alert")
}

func TestRecordUsage_UnconditionalAccrual(t *testing.T) {
	g := New(CostLimits{DailyLimitEUR: 1.0, MonthlyLimitEUR: 2.0})
	ctx := context.Background()

	// Spend past both limits still books in full.
	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 5.0)))

	// Failed calls that incurred cost are booked too.
	failed := usageFor("org-1", 0.5)
	failed.Success = false
	failed.ErrorType = errors.CategoryTimeout
	require.NoError(t, g.RecordUsage(ctx, failed))

	s := g.Summarize("org-1")
	assert.Equal(t, 5.5, s.DailySpendEUR)
	assert.Equal(t, 5.5, s.MonthlySpendEUR)
}

func TestWarningAlert_ProjectedUtilization(t *testing.T) {
	var alerts []Alert
	g := New(CostLimits{
		PerRequestLimitEUR: 10.0,
		DailyLimitEUR:      10.0,
		MonthlyLimitEUR:    1000.0,
		WarningThresholds:  WarningThresholds{DailyPct: 80, MonthlyPct: 80},
	}, WithAlertHandler(func(a Alert) { alerts = append(alerts, a) }))
	ctx := context.Background()

	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 7.0)))

	// 7.0 spent + 1.5 projected = 85% of the daily limit: allowed, warned.
	require.NoError(t, g.ValidateRequest(ctx, "org-1", 1.5, "openai-gpt4", "gpt-4o"))

	require.NotEmpty(t, alerts)
	warning := alerts[len(alerts)-1]
	assert.Equal(t, AlertWarning, warning.Type)
	assert.Equal(t, errors.PeriodDaily, warning.Period)
	assert.Equal(t, 7.0, warning.CurrentCost)

	// Below the threshold no warning fires.
	alerts = nil
	require.NoError(t, g.ValidateRequest(ctx, "org-1", 0.1, "openai-gpt4", "gpt-4o"))
	assert.Empty(t, alerts)
}

func TestAlertHandler_PanicIsolated(t *testing.T) {
	delivered := false
	g := New(CostLimits{DailyLimitEUR: 1.0},
		WithAlertHandler(func(Alert) { panic("boom") }),
		WithAlertHandler(func(Alert) { delivered = true }),
	)

	assert.NotPanics(t, func() {
		// Over the daily limit, so a limit_exceeded alert fires.
		_ = g.ValidateRequest(context.Background(), "org-1", 2.0, "openai-gpt4", "gpt-4o")
	})
	assert.True(t, delivered, "panic in one handler must not starve the next")
}

func TestAlertHandler_MayReadGuardrailsState(t *testing.T) {
	var g *Guardrails
	var snapshot Summary
	g = New(CostLimits{DailyLimitEUR: 1.0},
		// An alert enricher reading back through the public API must
		// not block the admission path.
		WithAlertHandler(func(a Alert) { snapshot = g.Summarize(a.OrgID) }),
	)

	done := make(chan error, 1)
	go func() {
		done <- g.ValidateRequest(context.Background(), "org-1", 2.0, "openai-gpt4", "gpt-4o")
	}()

	select {
	case err := <-done:
		var bErr *errors.BudgetError
		require.ErrorAs(t, err, &bErr)
		assert.Equal(t, "org-1", snapshot.OrgID)
		assert.Equal(t, 1.0, snapshot.Limits.DailyLimitEUR)
	case <-time.After(2 * time.Second):
		t.Fatal("ValidateRequest blocked while an alert handler read guardrails state")
	}
}

func TestExplicitResets(t *testing.T) {
	g := New(CostLimits{DailyLimitEUR: 5.0, MonthlyLimitEUR: 100.0})
	ctx := context.Background()

	require.NoError(t, g.RecordUsage(ctx, usageFor("org-1", 4.0)))

	g.ResetDaily()
	s := g.Summarize("org-1")
	assert.Equal(t, 0.0, s.DailySpendEUR)
	assert.Equal(t, 4.0, s.MonthlySpendEUR, "daily reset must not touch the monthly total")

	g.ResetMonthly()
	assert.Equal(t, 0.0, g.Summarize("org-1").MonthlySpendEUR)
}

func TestSetLimits_Overrides(t *testing.T) {
	g := New(DefaultCostLimits())
	g.SetLimits("big-org", CostLimits{
		PerRequestLimitEUR: 5.0,
		DailyLimitEUR:      100.0,
		MonthlyLimitEUR:    2000.0,
	})

	// Over the default per-request cap but under the override.
	assert.NoError(t, g.ValidateRequest(context.Background(), "big-org", 2.0, "openai-gpt4", "gpt-4o"))

	// Other orgs keep the defaults.
	err := g.ValidateRequest(context.Background(), "other-org", 2.0, "openai-gpt4", "gpt-4o")
	assert.Error(t, err)
}

func TestHistoryReceivesRecords(t *testing.T) {
	store := NewRingStore(100)
	g := New(DefaultCostLimits(), WithHistory(store))
	ctx := context.Background()

	u := usageFor("org-1", 0.25)
	u.Timestamp = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, g.RecordUsage(ctx, u))

	got, err := store.QueryRange(ctx, "org-1",
		u.Timestamp.Add(-time.Minute), u.Timestamp.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.25, got[0].CostEUR)
}
