// Package actions provides the built-in actions that workflow steps
// reference with uses:.
package actions

import (
	"fmt"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
)

// Action names.
const (
	Checkout         = "checkout"
	SetupPython      = "setup-python"
	Install          = "install"
	DistVerify       = "dist-verify"
	HygieneSnapshot  = "hygiene-snapshot"
	HygieneCheck     = "hygiene-check"
	Pytest           = "pytest"
	CoverageUpload   = "coverage-upload"
	TypeCheck        = "typecheck"
	Lint             = "lint"
	pythonStateKey   = "setup-python"
	snapshotStateKey = "hygiene-snapshot"
)

// Register adds every built-in action, configured by cfg, to reg.
func Register(reg *pipeline.Registry, cfg *config.Config) error {
	return reg.Register(
		pipeline.Func(Checkout, checkoutAction(cfg)),
		pipeline.Func(SetupPython, setupPythonAction(cfg)),
		pipeline.Func(Install, installAction(cfg)),
		pipeline.Func(DistVerify, distVerifyAction(cfg)),
		pipeline.Func(HygieneSnapshot, hygieneSnapshotAction(cfg)),
		pipeline.Func(HygieneCheck, hygieneCheckAction(cfg)),
		pipeline.Func(Pytest, pytestAction(cfg)),
		pipeline.Func(CoverageUpload, coverageUploadAction(cfg)),
		pipeline.Func(TypeCheck, typeCheckAction(cfg)),
		pipeline.Func(Lint, lintAction(cfg)),
	)
}

// NewRegistry returns a registry holding the built-in actions.
func NewRegistry(cfg *config.Config) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	if err := Register(reg, cfg); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	return reg, nil
}

// python returns the interpreter selected by setup-python, or the one the
// configuration names for the instance's python-version.
func python(sc *pipeline.StepContext, cfg *config.Config) string {
	if sc.State != nil {
		if v, ok := sc.State.Get(pythonStateKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return cfg.Python(sc.Job.Param("python-version"))
}

// withPython substitutes the interpreter for a leading "python".
func withPython(cmd []string, py string) []string {
	out := append([]string(nil), cmd...)
	if len(out) > 0 && out[0] == "python" {
		out[0] = py
	}
	return out
}
