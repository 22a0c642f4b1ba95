package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/ux"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List workflows, their triggers and matrix instances",
	Long: `List every workflow after user workflows are merged over the built-ins,
with its triggers and the job instances its matrices expand to.

Examples:
  cigate workflows
  cigate workflows --format yaml
`,
	Args: cobra.NoArgs,
	RunE: runWorkflowsList,
}

func init() {
	rootCmd.AddCommand(workflowsCmd)
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	root, cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}
	wfs, err := loadWorkflows(root, cfg)
	if err != nil {
		return err
	}
	return cc.Output(cmd, ux.WorkflowList{Workflows: wfs})
}
