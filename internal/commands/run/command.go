// Package run implements the run command.
package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/quentra/playbook/internal/cli"
	"github.com/quentra/playbook/internal/log"
	"github.com/quentra/playbook/internal/tracing"
	"github.com/quentra/playbook/pkg/llm"
	"github.com/quentra/playbook/pkg/llm/budget"
	"github.com/quentra/playbook/pkg/playbook"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		vars         []string
		orgID        string
		userID       string
		budgetConfig string
		dbPath       string
		usageDBPath  string
		webhookWait  time.Duration
		showAudit    bool
	)

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Execute a playbook",
		Long: `Run executes a playbook definition as a compensating saga. Steps run in
declaration order behind dependency and condition gates; failed steps
that demand it get their declared compensation, and the full audit
trail is available with --audit.

AI steps route through the providers the environment configures (see
'playbook providers'). Database steps need --db; Microsoft Graph steps
need a Graph integration and fail without one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())

			v, _, _ := cli.Version()
			shutdown, err := tracing.Setup("playbook", v)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			def, err := playbook.Load(args[0])
			if err != nil {
				return err
			}

			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			for k, v := range def.Variables {
				if _, set := variables[k]; !set {
					variables[k] = v
				}
			}

			guardOpts := []budget.Option{
				budget.WithLogger(logger),
				budget.WithAlertHandler(func(a budget.Alert) {
					fmt.Fprintf(os.Stderr, "budget %s [%s/%s]: %s\n", a.Type, a.OrgID, a.Period, a.Message)
				}),
			}
			if usageDBPath != "" {
				histDB, err := sql.Open("sqlite", usageDBPath)
				if err != nil {
					return fmt.Errorf("failed to open usage database: %w", err)
				}
				defer histDB.Close()
				store, err := budget.NewSQLStore(cmd.Context(), histDB)
				if err != nil {
					return err
				}
				guardOpts = append(guardOpts, budget.WithHistory(store))
			}

			var guardrails *budget.Guardrails
			if budgetConfig != "" {
				cfg, err := budget.LoadConfig(budgetConfig)
				if err != nil {
					return err
				}
				guardrails = cfg.Build(guardOpts...)
			} else {
				guardrails = budget.New(budget.DefaultCostLimits(), guardOpts...)
			}

			registry := llm.NewRegistry(llm.DefaultCatalog(), llm.WithLogger(logger))
			monitor := llm.NewHealthMonitor(registry, llm.WithMonitorLogger(logger))
			monitor.CheckAll(cmd.Context())

			// Playbooks with long delays can cross a period boundary, so
			// the reset schedule runs for the lifetime of the execution.
			scheduler := cron.New()
			if err := guardrails.Schedule(scheduler); err != nil {
				return err
			}
			if _, err := monitor.Schedule(scheduler, "@every 30s"); err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			router := llm.NewRouter(registry, guardrails, llm.DefaultRouterConfig(), llm.WithRouterLogger(logger))

			var queries playbook.QueryExecutor
			if dbPath != "" {
				db, err := sql.Open("sqlite", dbPath)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer db.Close()
				queries = playbook.NewSQLQueryExecutor(db)
			}

			handlers := playbook.NewHandlers(router, nil, queries, playbook.NewHTTPWebhookSender(webhookWait), logger)
			executor := playbook.NewExecutor(handlers, playbook.WithExecutorLogger(logger))

			ec := playbook.NewContext(orgID, userID, variables)
			result, err := executor.Execute(cmd.Context(), def, ec)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				out := map[string]interface{}{
					"executionId": ec.ExecutionID,
					"success":     result.Success,
					"results":     result.Results,
				}
				if showAudit {
					out["audit"] = result.AuditTrail
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			printResult(def, ec, result, showAudit)
			if !result.Success {
				return fmt.Errorf("playbook %s failed", def.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "Playbook variable as key=value (repeatable)")
	cmd.Flags().StringVar(&orgID, "org", "default", "Organization ID for budgets and audit")
	cmd.Flags().StringVar(&userID, "user", "", "User ID recorded in the audit trail")
	cmd.Flags().StringVarP(&budgetConfig, "budget-config", "c", "", "Guardrail config file (YAML)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database for database_query steps")
	cmd.Flags().StringVar(&usageDBPath, "usage-db", "", "SQLite database for AI usage history")
	cmd.Flags().DurationVar(&webhookWait, "webhook-timeout", 30*time.Second, "Timeout for webhook_trigger steps")
	cmd.Flags().BoolVar(&showAudit, "audit", false, "Print the audit trail after execution")
	return cmd
}

func parseVars(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printResult(def *playbook.Definition, ec *playbook.Context, result *playbook.Result, showAudit bool) {
	for _, step := range def.Steps {
		r, ok := result.Results[step.ID]
		switch {
		case !ok:
			fmt.Printf("- %-24s skipped\n", step.ID)
		case r.Success:
			fmt.Printf("✓ %-24s ok\n", step.ID)
		default:
			fmt.Printf("✗ %-24s %s\n", step.ID, r.Error)
		}
	}

	if showAudit {
		fmt.Println("\nAudit trail:")
		for _, e := range result.AuditTrail {
			line := fmt.Sprintf("  %s %-12s %-22s %s", e.Timestamp.Format(time.RFC3339), e.Status, e.Action, e.StepID)
			if e.Error != "" {
				line += " (" + e.Error + ")"
			}
			fmt.Println(line)
		}
	}

	if result.Success {
		fmt.Printf("\nexecution %s succeeded\n", ec.ExecutionID)
	} else {
		fmt.Printf("\nexecution %s failed\n", ec.ExecutionID)
	}
}
