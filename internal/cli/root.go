// Package cli holds the root Cobra command and shared CLI plumbing.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quentra/playbook/pkg/errors"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// Version returns the build version information.
func Version() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand creates the root Cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Playbook - compensating saga execution for business automations",
		Long: `Playbook executes declarative multi-step business automations as
compensating sagas. Steps draft emails, post Teams messages, create
Planner tasks, query databases, trigger webhooks and call AI providers,
with declared compensations run for steps that fail after taking effect.

Run 'playbook validate <file>' to check a definition.
Run 'playbook run <file>' to execute one.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	return cmd
}

// HandleExitError prints an error and exits with a code reflecting its
// category. Budget rejections get their own code so schedulers can tell
// "over budget" from "broken".
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	switch errors.Classify(err) {
	case errors.CategoryCostCap:
		os.Exit(3)
	case errors.CategoryNoProviders:
		os.Exit(4)
	default:
		os.Exit(1)
	}
}
