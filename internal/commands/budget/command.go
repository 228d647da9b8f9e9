// Package budget implements the budget command.
package budget

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quentra/playbook/pkg/llm/budget"
)

// NewCommand creates the budget command.
func NewCommand() *cobra.Command {
	var (
		configPath string
		orgID      string
	)

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show cost limits for an organization",
		Long: `Budget shows the effective cost limits for an organization: per-request,
daily and monthly caps, warning thresholds, and the emergency stop.
Limits come from the optional guardrail config file; organizations
without an override use the defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limits := budget.DefaultCostLimits()
			if configPath != "" {
				cfg, err := budget.LoadConfig(configPath)
				if err != nil {
					return err
				}
				limits = cfg.Defaults
				if override, ok := cfg.Orgs[orgID]; ok {
					limits = override
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"org":    orgID,
					"limits": limits,
				})
			}

			fmt.Printf("Cost limits for %s:\n", orgID)
			fmt.Printf("  per request:  %.2f€\n", limits.PerRequestLimitEUR)
			fmt.Printf("  daily:        %.2f€ (warn at %.0f%%)\n", limits.DailyLimitEUR, limits.WarningThresholds.DailyPct)
			fmt.Printf("  monthly:      %.2f€ (warn at %.0f%%)\n", limits.MonthlyLimitEUR, limits.WarningThresholds.MonthlyPct)
			if limits.EmergencyStop.Enabled {
				fmt.Printf("  emergency stop at %.2f€ monthly\n", limits.EmergencyStop.ThresholdEUR)
			} else {
				fmt.Println("  emergency stop disabled")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Guardrail config file (YAML)")
	cmd.Flags().StringVar(&orgID, "org", "default", "Organization ID")
	return cmd
}
