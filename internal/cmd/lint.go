package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/actions"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/gate"
	"github.com/felixgeelhaar/cigate/internal/ux"
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Run the mypy and flake8 gate",
	Long: `Run the static-analysis gate directly: mypy with the project's strictness
flags, then flake8 on the library and on the tests. Every check runs even
when an earlier one fails; the gate passes only if all of them pass.

Examples:
  cigate lint
  cigate lint --sarif lint.sarif
  cigate lint --findings 0 --format json
`,
	Args: cobra.NoArgs,
	RunE: runLint,
}

var (
	lintSARIF    string
	lintPython   string
	lintFindings int
)

func init() {
	lintCmd.Flags().StringVar(&lintSARIF, "sarif", "", "also write findings as SARIF to this file (default: analysis.sarif)")
	lintCmd.Flags().StringVar(&lintPython, "python", "", "python-version whose interpreter runs the tools (default: project.python_version)")
	lintCmd.Flags().IntVar(&lintFindings, "findings", 20, "findings listed per check; 0 lists all")

	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	version := lintPython
	if version == "" {
		version = a.cfg.Project.PythonVersion
	}
	runner := a.dispatcher.ForJob(uuid.NewString(), "lint", "gate")
	report := gate.Run(cmd.Context(), actions.GateChecks(a.cfg, runner, a.root, a.cfg.Python(version))...)

	path := lintSARIF
	if path == "" {
		path = a.cfg.Analysis.SARIF
	}
	if path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.root, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create SARIF directory", err)
		}
		if err := gate.SaveSARIF(report.ToSARIF(), path); err != nil {
			return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write SARIF report", err)
		}
		a.logger.Info("wrote SARIF report", "path", path, "findings", len(report.Findings()))
	}

	if err := cc.Output(cmd, ux.GateSummary{Report: report, MaxFindings: lintFindings}); err != nil {
		return err
	}
	return report.Err()
}
