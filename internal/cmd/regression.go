package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

var regressionCmd = &cobra.Command{
	Use:   "regression",
	Short: "Run the regression suite once",
	Long: `Run the regression workflow now instead of waiting for its schedule. The
suite runs in a clone under .cigate/checkouts, fetched and reset to the tip
of the regression branch on every run. The clone comes from the configured
repository, else the project's origin, else the project itself; the project
tree is never switched to another branch.

Examples:
  cigate regression
  cigate regression --branch master
  cigate regression --repository https://github.com/automl/Auto-PyTorch.git
`,
	Args: cobra.NoArgs,
	RunE: runRegression,
}

var (
	regressionBranch     string
	regressionRepository string
)

func init() {
	regressionCmd.Flags().StringVar(&regressionBranch, "branch", "", "branch to test (default: regression.branch)")
	regressionCmd.Flags().StringVar(&regressionRepository, "repository", "", "repository to clone and test (default: the project's origin)")

	rootCmd.AddCommand(regressionCmd)
}

func runRegression(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout(), func(cfg *config.Config) {
		if regressionBranch != "" {
			cfg.Regression.Branch = regressionBranch
		}
		if regressionRepository != "" {
			cfg.Regression.Repository = regressionRepository
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.runWorkflows(cmd.Context(), workflow.Event{Kind: workflow.EventManual}, regressionWorkflow)
	if err != nil {
		return err
	}
	if err := cc.Output(cmd, ux.RunSummary{Report: report}); err != nil {
		return err
	}
	return report.Err()
}
