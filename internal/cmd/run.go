package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every workflow triggered by an event",
	Long: `Run every workflow whose triggers match an event. Matching workflows run
concurrently; within a workflow, matrix instances respect the job's
fail-fast and max-parallel settings.

The branch defaults to the branch checked out in the project.

Examples:
  # What a push to the current branch would run
  cigate run

  # What a pull request against development would run
  cigate run --event pull_request --branch development

  # Run the scheduled workflows once, now
  cigate run --event schedule

  # Run selected workflows by hand
  cigate run --event manual --workflow dist --workflow pre-commit
`,
	RunE: runRun,
}

var (
	runEvent     string
	runBranch    string
	runWorkflows []string
)

func init() {
	runCmd.Flags().StringVar(&runEvent, "event", string(workflow.EventPush), "event kind: push, pull_request, schedule or manual")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "branch the event is for (default: current branch)")
	runCmd.Flags().StringArrayVarP(&runWorkflows, "workflow", "w", nil, "only consider these workflows")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	kind, err := workflow.ParseEventKind(runEvent)
	if err != nil {
		return fmt.Errorf("invalid flag --event: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	ev := workflow.Event{Kind: kind, Branch: runBranch}
	if ev.Branch == "" && (kind == workflow.EventPush || kind == workflow.EventPullRequest) {
		ev.Branch = currentBranch(a.root)
	}

	wfs := a.workflows
	if len(runWorkflows) > 0 {
		wfs = nil
		for _, name := range runWorkflows {
			wf, err := workflow.Find(a.workflows, name)
			if err != nil {
				return err
			}
			wfs = append(wfs, wf)
		}
	}

	report, err := a.orchestrator.Run(cmd.Context(), wfs, ev)
	if err != nil {
		return err
	}
	if err := cc.Output(cmd, ux.RunSummary{Report: report}); err != nil {
		return err
	}
	return report.Err()
}
