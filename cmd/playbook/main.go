package main

import (
	"fmt"

	"github.com/quentra/playbook/internal/cli"
	budgetcmd "github.com/quentra/playbook/internal/commands/budget"
	"github.com/quentra/playbook/internal/commands/providers"
	"github.com/quentra/playbook/internal/commands/run"
	"github.com/quentra/playbook/internal/commands/validate"
	"github.com/spf13/cobra"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(providers.NewCommand())
	rootCmd.AddCommand(budgetcmd.NewCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, b := cli.Version()
			fmt.Printf("playbook %s (commit %s, built %s)\n", v, c, b)
		},
	}
}
