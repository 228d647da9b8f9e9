package budget

import (
	"github.com/robfig/cron/v3"
)

// Cron specs for period rollovers, in the scheduler's timezone. Use a UTC
// scheduler so the counters align with the UTC period keys.
const (
	DailyResetSpec   = "0 0 * * *"
	MonthlyResetSpec = "0 0 1 * *"
)

// Schedule registers the daily and monthly resets on a cron scheduler. The
// caller owns starting and stopping the scheduler.
func (g *Guardrails) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc(DailyResetSpec, g.ResetDaily); err != nil {
		return err
	}
	if _, err := c.AddFunc(MonthlyResetSpec, g.ResetMonthly); err != nil {
		return err
	}
	return nil
}
