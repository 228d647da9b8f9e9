// Package validate implements the validate command.
package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quentra/playbook/pkg/playbook"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <playbook>",
		Short: "Validate playbook YAML syntax and structure",
		Long: `Validate checks that a playbook file has valid YAML syntax and passes
structural validation: unique step IDs, known step and compensation
types, dependencies referencing only earlier steps, and well-formed
conditions. No providers or credentials are needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := playbook.Load(args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"valid":   true,
					"id":      def.ID,
					"name":    def.Name,
					"version": def.Version,
					"steps":   len(def.Steps),
				})
			}

			fmt.Printf("✓ %s is valid\n", args[0])
			fmt.Printf("  id:      %s\n", def.ID)
			if def.Name != "" {
				fmt.Printf("  name:    %s\n", def.Name)
			}
			if def.Version != "" {
				fmt.Printf("  version: %s\n", def.Version)
			}
			fmt.Printf("  steps:   %d\n", len(def.Steps))
			for _, step := range def.Steps {
				marker := " "
				if step.Compensation != nil {
					marker = "⎌"
				}
				fmt.Printf("    %s %-24s %s\n", marker, step.ID, step.Type)
			}
			return nil
		},
	}
	return cmd
}
