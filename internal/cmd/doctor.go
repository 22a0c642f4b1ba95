package cmd

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/health"
	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the host can run the workflows",
	Long: `Check the environment the workflows need before running them.

Checks include:
  • Docker daemon (required when runner.kind is docker)
  • Git repository at the project root
  • One interpreter per python-version in the workflow matrices
  • mypy, flake8 with its plugins, pytest and twine

Examples:
  cigate doctor
  cigate doctor --format json
`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	// Interpreters and tools are probed where steps run; the daemon on
	// the host.
	runner := a.dispatcher.ForJob(uuid.NewString(), "doctor", "probe")
	manager := health.NewManager()
	manager.AddChecker(
		health.NewDockerChecker(exec.NewLocalRunner(), a.cfg.Runner.Kind == exec.RunnerDocker),
		health.NewRepoChecker(a.root),
	)
	manager.AddChecker(doctorCheckers(a.cfg, a.workflows, runner)...)

	report := manager.Check(cmd.Context())
	if err := cc.Output(cmd, ux.HealthSummary{Report: report}); err != nil {
		return err
	}
	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("environment is unhealthy")
	}
	return nil
}

// doctorCheckers probes every matrix interpreter and the tools the
// workflows call through the project's default interpreter.
func doctorCheckers(cfg *config.Config, wfs []*workflow.Workflow, runner exec.Runner) []health.Checker {
	versions := matrixValues(wfs, pythonKey)
	if len(versions) == 0 {
		versions = []string{cfg.Project.PythonVersion}
	}

	var checkers []health.Checker
	for _, v := range versions {
		checkers = append(checkers, health.NewPythonChecker(runner, cfg.Python(v), v))
	}

	plugins := map[string]bool{}
	for _, lc := range cfg.Analysis.Lint {
		for _, p := range lc.Plugins {
			plugins[p] = true
		}
	}
	flake8 := health.Tool{Module: "flake8"}
	for p := range plugins {
		flake8.Plugins = append(flake8.Plugins, p)
	}
	sort.Strings(flake8.Plugins)

	checkers = append(checkers, health.NewToolChecker(runner, cfg.Python(cfg.Project.PythonVersion),
		health.Tool{Module: "mypy"},
		flake8,
		health.Tool{Module: "pytest"},
		health.Tool{Module: "twine"},
	))
	return checkers
}
