package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

const (
	pytestWorkflow = "pytest"
	pythonKey      = "python-version"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the pytest matrix with the worktree hygiene check",
	Long: `Run the pytest workflow: every python version of the matrix installs the
project, runs the suite in forked processes with a per-test timeout and
fails if the run left untracked or modified files behind.

Examples:
  # Whole matrix, two versions at a time
  cigate test

  # One interpreter only
  cigate test --python 3.8

  # One process per test file, killed after tests.file_timeout
  cigate test --isolate

  # Skip coverage collection and upload on the designated entry
  cigate test --coverage=false
`,
	Args: cobra.NoArgs,
	RunE: runTest,
}

var (
	testPython   string
	testIsolate  bool
	testCoverage bool
)

func init() {
	testCmd.Flags().StringVar(&testPython, "python", "", "run only this python-version of the matrix")
	testCmd.Flags().BoolVar(&testIsolate, "isolate", false, "run each test file as its own process")
	testCmd.Flags().BoolVar(&testCoverage, "coverage", true, "collect and upload coverage on the designated matrix entry")

	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	var mutate []func(*config.Config)
	if testIsolate {
		mutate = append(mutate, func(cfg *config.Config) { cfg.Tests.Isolate = true })
	}

	a, err := newApp(cc, cmd.OutOrStdout(), mutate...)
	if err != nil {
		return err
	}
	defer a.Close()

	wf, err := workflow.Find(a.workflows, pytestWorkflow)
	if err != nil {
		return err
	}
	if testPython != "" {
		wf = restrictMatrix(wf, pythonKey, testPython)
	}
	if !testCoverage {
		wf = dropMatrixKey(wf, a.cfg.Coverage.Entry)
	}
	for i, w := range a.workflows {
		if w.Name == pytestWorkflow {
			a.workflows[i] = wf
		}
	}

	report, err := a.runWorkflows(cmd.Context(), workflow.Event{Kind: workflow.EventManual}, pytestWorkflow)
	if err != nil {
		return err
	}
	if err := cc.Output(cmd, ux.RunSummary{Report: report}); err != nil {
		return err
	}
	return report.Err()
}
