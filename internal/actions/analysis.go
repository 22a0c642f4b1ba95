package actions

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/gate"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
)

// TypeCheckConfig maps the configuration onto mypy settings run through py.
func TypeCheckConfig(cfg *config.Config, py string) analysis.TypeCheckConfig {
	tc := cfg.Analysis.TypeCheck
	return analysis.TypeCheckConfig{
		Command:            []string{py, "-m", "mypy"},
		Target:             tc.Target,
		Exclude:            tc.Exclude,
		WarnRedundantCasts: tc.WarnRedundantCasts,
		WarnReturnAny:      tc.WarnReturnAny,
		WarnUnreachable:    tc.WarnUnreachable,
		StrictAsErrors:     true,
	}
}

// LintConfigs maps the configured style checks onto flake8 settings run
// through py.
func LintConfigs(cfg *config.Config, py string) []analysis.LintConfig {
	out := make([]analysis.LintConfig, 0, len(cfg.Analysis.Lint))
	for _, l := range cfg.Analysis.Lint {
		out = append(out, analysis.LintConfig{
			Name:    l.Name,
			Command: []string{py, "-m", "flake8"},
			Target:  l.Target,
			Plugins: l.Plugins,
		})
	}
	return out
}

// GateChecks returns the type check followed by every style check.
func GateChecks(cfg *config.Config, runner exec.Runner, dir, py string) []gate.Check {
	tc := TypeCheckConfig(cfg, py)
	checks := []gate.Check{{
		Name: "mypy",
		Run: func(ctx context.Context) (*analysis.Result, error) {
			return analysis.TypeCheck(ctx, runner, tc, dir)
		},
	}}
	for _, lc := range LintConfigs(cfg, py) {
		checks = append(checks, gate.Check{
			Name: lc.Name,
			Run: func(ctx context.Context) (*analysis.Result, error) {
				return analysis.Lint(ctx, runner, lc, dir)
			},
		})
	}
	return checks
}

func printFindings(sc *pipeline.StepContext, res *analysis.Result) {
	if res == nil {
		return
	}
	for _, f := range res.Findings {
		fmt.Fprintln(sc.Out, f.String())
	}
	sc.SetExitCode(res.ExitCode)
}

func typeCheckAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		res, err := analysis.TypeCheck(ctx, sc.Runner, TypeCheckConfig(cfg, python(sc, cfg)), sc.Workdir)
		printFindings(sc, res)
		return err
	}
}

// lintAction runs the style check named by the check input, or every
// configured check when it is empty.
func lintAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		name := sc.Input("check", "")
		var selected []analysis.LintConfig
		for _, lc := range LintConfigs(cfg, python(sc, cfg)) {
			if name == "" || lc.Name == name {
				selected = append(selected, lc)
			}
		}
		if len(selected) == 0 {
			return errors.New(errors.ErrCodeWorkflowInvalid, fmt.Sprintf("no lint check named %q", name)).
				WithSuggestion("Define it under analysis.lint in .cigate/config.yaml")
		}

		var firstErr error
		for _, lc := range selected {
			res, err := analysis.Lint(ctx, sc.Runner, lc, sc.Workdir)
			printFindings(sc, res)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}
