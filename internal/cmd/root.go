package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cigate",
	Short: "Local CI verification gate for Python packages",
	Long: `cigate runs the verification workflows of a Python project on a developer
machine or CI host: the distribution check, the pytest matrix with the
worktree hygiene check, the scheduled regression suite and the mypy/flake8
static-analysis gate.

Workflows are built in and can be replaced or extended with YAML files in
.cigate/workflows. Configuration is read from .cigate/config.yaml, a .env
file and CIGATE_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx; cancelling it cancels
// running jobs.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("dir", "C", "", "project directory (default: nearest parent with .cigate or .git)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringP("format", "o", "text", "output format: text, json or yaml")
}
