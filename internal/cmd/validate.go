package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/actions"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow.yaml...]",
	Short: "Validate the configuration and workflow files",
	Long: `Validate .cigate/config.yaml and every workflow, built-in and user-defined.
With file arguments only those workflow files are checked.

Checks include unknown keys, step conditions, matrix shape, max-parallel,
cron expressions and that every uses: names a known action.

Examples:
  cigate validate
  cigate validate .cigate/workflows/nightly.yaml
`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	root, cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}

	var wfs []*workflow.Workflow
	if len(args) > 0 {
		for _, path := range args {
			wf, err := workflow.Load(path)
			if err != nil {
				return err
			}
			wfs = append(wfs, wf)
		}
		if err := workflow.ValidateAll(wfs); err != nil {
			return err
		}
	} else if wfs, err = loadWorkflows(root, cfg); err != nil {
		return err
	}

	registry, err := actions.NewRegistry(cfg)
	if err != nil {
		return err
	}
	if err := checkActions(registry, wfs); err != nil {
		return err
	}

	for _, wf := range wfs {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (%s)\n", wf.Name, wf.Source)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d workflow(s) valid\n", len(wfs))
	return nil
}

// checkActions reports every uses: that names no registered action.
func checkActions(registry *pipeline.Registry, wfs []*workflow.Workflow) error {
	var unknown []string
	for _, wf := range wfs {
		for _, id := range wf.JobIDs() {
			for _, step := range wf.Jobs[id].Steps {
				if step.Uses == "" {
					continue
				}
				if _, err := registry.Get(step.Uses); err != nil {
					unknown = append(unknown, fmt.Sprintf("%s/%s uses %q", wf.Name, id, step.Uses))
				}
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return errors.New(errors.ErrCodeActionUnknown, "unknown actions: "+strings.Join(unknown, "; ")).
		WithSuggestion("Known actions: " + strings.Join(registry.Names(), ", "))
}
