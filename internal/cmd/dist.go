package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

const distWorkflow = "dist"

var distCmd = &cobra.Command{
	Use:   "dist",
	Short: "Build, check, install and import the source distribution",
	Long: `Run the dist workflow: build the source distribution, check its metadata,
install it into the interpreter and import the package from outside the
source tree.

Examples:
  cigate dist
  cigate dist --format json
`,
	Args: cobra.NoArgs,
	RunE: runDist,
}

func init() {
	rootCmd.AddCommand(distCmd)
}

func runDist(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.runWorkflows(cmd.Context(), workflow.Event{Kind: workflow.EventManual}, distWorkflow)
	if err != nil {
		return err
	}
	if err := cc.Output(cmd, ux.RunSummary{Report: report}); err != nil {
		return err
	}
	return report.Err()
}
