// Package providers implements the providers command.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quentra/playbook/internal/log"
	"github.com/quentra/playbook/pkg/llm"
)

// NewCommand creates the providers command.
func NewCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured AI providers and their health",
		Long: `Providers lists every AI provider the current environment configures,
probes edge providers over HTTP, and reports per-provider health,
models and pricing. Cloud providers are configured through their API
key environment variables; the local Mistral instance through
MISTRAL_EDGE_URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())
			registry := llm.NewRegistry(llm.DefaultCatalog(), llm.WithLogger(logger))
			monitor := llm.NewHealthMonitor(registry, llm.WithMonitorLogger(logger))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			monitor.CheckAll(ctx)

			health := registry.AllHealth()
			descriptors := registry.AllProviders()

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				out := make([]map[string]interface{}, 0, len(descriptors))
				for _, d := range descriptors {
					h := health[d.ID]
					out = append(out, map[string]interface{}{
						"id":        d.ID,
						"type":      d.Type,
						"enabled":   d.Enabled,
						"status":    h.Status,
						"latencyMs": h.Latency.Milliseconds(),
						"errorRate": h.ErrorRate,
						"models":    d.Models,
					})
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			for _, d := range descriptors {
				h := health[d.ID]
				fmt.Printf("%-18s %-6s %-9s", d.ID, d.Type, h.Status)
				if h.Latency > 0 {
					fmt.Printf(" %6dms", h.Latency.Milliseconds())
				}
				fmt.Println()
				if h.Detail != "" {
					fmt.Printf("  %s\n", h.Detail)
				}
				for _, m := range d.Models {
					fmt.Printf("  %-28s in %.5f€/1K  out %.5f€/1K\n", m.ID, m.InputCostPer1K, m.OutputCostPer1K)
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall health probe timeout")
	return cmd
}
