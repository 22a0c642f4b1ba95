package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/coverage"
	"github.com/felixgeelhaar/cigate/internal/dist"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/hygiene"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/repo"
	"github.com/felixgeelhaar/cigate/internal/testrun"
)

// NewVerifier configures the distribution verifier for the project in dir.
func NewVerifier(cfg *config.Config, sc *pipeline.StepContext, py string) *dist.Verifier {
	return &dist.Verifier{
		Runner:         sc.Runner,
		Logger:         sc.Logger,
		Out:            sc.Out,
		Dir:            sc.Workdir,
		OutputDir:      cfg.Dist.OutputDir,
		Pattern:        cfg.DistPattern(),
		Module:         cfg.Project.Import,
		BuildCommand:   withPython(cfg.Dist.BuildCommand, py),
		CheckCommand:   withPython(cfg.Dist.CheckCommand, py),
		InstallCommand: withPython(cfg.Dist.InstallCommand, py),
		ImportCommand:  []string{py, "-c"},
	}
}

func distVerifyAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		report, err := NewVerifier(cfg, sc, python(sc, cfg)).Verify(ctx)
		if report != nil {
			if n := len(report.Steps); n > 0 {
				sc.SetExitCode(report.Steps[n-1].ExitCode)
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(sc.Out, "verified %s (%s)\n", report.Artifact, report.Digest)
		return nil
	}
}

// hygieneSnapshotAction records the worktree status under the step id for
// a later hygiene-check.
func hygieneSnapshotAction(_ *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		snap, err := hygiene.Capture(ctx, sc.Workdir)
		if err != nil {
			return errors.Wrap(errors.ErrCodeHygieneBaseline, "failed to record worktree status", err)
		}
		if sc.Step.ID != "" {
			sc.State.Set(sc.Step.ID, snap)
		}
		sc.State.Set(snapshotStateKey, snap)
		fmt.Fprint(sc.Out, string(snap))
		return nil
	}
}

// hygieneCheckAction compares the current worktree status with the
// snapshot named by the baseline input.
func hygieneCheckAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		key := sc.Input("baseline", snapshotStateKey)
		v, ok := sc.State.Get(key)
		before, isSnap := v.(hygiene.Snapshot)
		if !ok || !isSnap {
			return errors.New(errors.ErrCodeHygieneBaseline,
				fmt.Sprintf("no worktree snapshot %q recorded before this step", key)).
				WithSuggestion("Add a hygiene-snapshot step with a matching id before the tests")
		}

		after, err := hygiene.Capture(ctx, sc.Workdir)
		if err != nil {
			return errors.Wrap(errors.ErrCodeHygieneBaseline, "failed to read worktree status", err)
		}

		ignore := append(cfg.HygieneIgnorePatterns(sc.Workdir), splitList(sc.Input("ignore", ""))...)
		if err := hygiene.Compare(before, after, ignore); err != nil {
			fmt.Fprintln(sc.Out, err.Error())
			return err
		}
		fmt.Fprintln(sc.Out, "working tree unchanged")
		return nil
	}
}

// PytestOptions builds the test runner options for a step. mode:
// regression runs the curated regression subset with a slowest-tests
// report.
func PytestOptions(cfg *config.Config, sc *pipeline.StepContext, py string) (testrun.Options, error) {
	opts := testrun.DefaultOptions()
	if sc.Input("mode", "") == "regression" {
		opts = testrun.RegressionOptions(cfg.Regression.Paths, cfg.Regression.Durations)
	} else {
		opts.Paths = cfg.Tests.Paths
	}
	if paths := sc.Input("paths", ""); paths != "" {
		opts.Paths = splitList(paths)
	}

	cov, err := sc.BoolInput("coverage", false)
	if err != nil {
		return opts, err
	}

	opts.Python = py
	opts.Forked = cfg.Tests.Forked
	opts.Timeout = cfg.Tests.Timeout
	opts.TimeoutMethod = cfg.Tests.TimeoutMethod
	opts.Coverage = cov
	opts.CoveragePackage = cfg.Project.Import
	opts.Markers = sc.Input("markers", "")
	opts.Keyword = sc.Input("keyword", "")
	opts.Verbose = sc.Input("verbose", "") == "true"
	opts.Dir = sc.Workdir
	opts.Env = sc.Env
	opts.Output = sc.Out
	return opts, nil
}

func pytestAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		opts, err := PytestOptions(cfg, sc, python(sc, cfg))
		if err != nil {
			return err
		}

		isolate, err := sc.BoolInput("isolate", cfg.Tests.Isolate)
		if err != nil {
			return err
		}

		var summary *testrun.Summary
		if isolate {
			summary, err = runIsolated(ctx, cfg, sc, opts)
		} else {
			summary, err = testrun.Run(ctx, sc.Runner, opts)
		}
		if summary != nil {
			sc.SetExitCode(summary.ExitCode)
			sc.State.Set(sc.StepID(), summary)
			fmt.Fprintf(sc.Out, "tests: %s\n", summary)
			if opts.Durations > 0 && len(summary.Slowest) > 0 {
				fmt.Fprintf(sc.Out, "slowest %d durations:\n", len(summary.Slowest))
				for _, d := range summary.Slowest {
					fmt.Fprintf(sc.Out, "  %8.2fs %-8s %s\n", d.Seconds, d.Phase, d.Test)
				}
			}
		}
		return err
	}
}

// runIsolated runs every test file as its own case so a file that hangs
// or crashes the interpreter is killed and reported without taking the
// others down.
func runIsolated(ctx context.Context, cfg *config.Config, sc *pipeline.StepContext, opts testrun.Options) (*testrun.Summary, error) {
	cases, err := testrun.FileCases(opts)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, errors.New(errors.ErrCodeTestsNotRun, "no test files found under "+strings.Join(opts.Paths, ", "))
	}

	suite := &testrun.Suite{
		Runner:    sc.Runner,
		Timeout:   cfg.Tests.FileTimeout,
		KillGrace: cfg.Tests.KillGrace,
		Workers:   cfg.Tests.Workers,
	}
	res := suite.Run(ctx, cases)
	for _, c := range res.Cases {
		fmt.Fprintf(sc.Out, "%-9s %s (%s)\n", c.Status, c.Name, c.Duration.Round(time.Millisecond))
		if c.Failed() && c.Output != "" {
			fmt.Fprintln(sc.Out, c.Output)
		}
	}
	return res.Summary(), res.Err()
}

// coverageUploadAction sends the coverage report of the designated matrix
// entry. Upload failures fail the step only when coverage.fail_on_error
// is set.
func coverageUploadAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		path := sc.Path(sc.Input("report", cfg.Coverage.Report))

		rep, err := coverage.ParseFile(path)
		if err != nil {
			if cfg.Coverage.FailOnError {
				return err
			}
			sc.Logger.Warn("coverage report unreadable, skipping upload", "report", path, "error", err)
			return nil
		}
		fmt.Fprintf(sc.Out, "coverage: %.1f%% (%d/%d lines)\n", rep.Percent(), rep.LinesCovered, rep.LinesValid)

		meta := coverage.Meta{Name: sc.Job.Name, Build: sc.Env["CIGATE_RUN_ID"]}
		if r, err := repo.Open(sc.Workdir); err == nil {
			meta.Branch, meta.Commit, _ = r.Head()
		}

		up := coverage.NewUploader(cfg.Coverage.Endpoint, cfg.Coverage.Token, cfg.Coverage.FailOnError)
		up.Flags = cfg.Coverage.Flags
		if flags := sc.Input("flags", ""); flags != "" {
			up.Flags = splitList(flags)
		}
		up.Logger = sc.Logger
		return up.Upload(ctx, path, meta)
	}
}
