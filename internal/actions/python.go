package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
)

// setupPythonAction selects the interpreter for python-version and checks
// that it reports a matching version. Later steps of the job use it.
func setupPythonAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		want := sc.Input("python-version", sc.Job.Param("python-version"))
		py := cfg.Python(want)

		res, err := sc.Exec(ctx, "version", []string{py, "--version"})
		if err != nil {
			return errors.Wrap(errors.ErrCodeExecStartFailed, fmt.Sprintf("python interpreter %s not available", py), err).
				WithSuggestion(fmt.Sprintf("Install Python %s or set project.python in .cigate/config.yaml", want))
		}
		if err := pipeline.ResultErr(res, py+" --version"); err != nil {
			return err
		}

		got, err := ParsePythonVersion(res.Combined())
		if err != nil {
			return err
		}
		if want != "" {
			ok, err := VersionMatches(got, want)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("%s is Python %s, want %s", py, got, want)).
					WithSuggestion("Point project.python at the matching interpreter")
			}
		}

		sc.State.Set(pythonStateKey, py)
		sc.Logger.Info("python selected", "interpreter", py, "version", got.String())
		return nil
	}
}

// ParsePythonVersion reads "Python X.Y.Z" output.
func ParsePythonVersion(output string) (*semver.Version, error) {
	s := strings.TrimSpace(output)
	s = strings.TrimPrefix(s, "Python ")
	if i := strings.IndexAny(s, " \n"); i >= 0 {
		s = s[:i]
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExecStartFailed,
			fmt.Sprintf("unexpected interpreter version output %q", strings.TrimSpace(output)), err)
	}
	return v, nil
}

// VersionMatches reports whether got satisfies a requested version such
// as "3.8" (any 3.8.x) or "3.8.10".
func VersionMatches(got *semver.Version, want string) (bool, error) {
	c, err := semver.NewConstraint("~" + want)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeWorkflowInvalid, fmt.Sprintf("invalid python-version %q", want), err)
	}
	return c.Check(got), nil
}

// installAction installs the project with optional extras, editable by
// default: python -m pip install -e .[test].
func installAction(cfg *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		editable, err := sc.BoolInput("editable", true)
		if err != nil {
			return err
		}

		extras := cfg.Project.Extras
		if v := sc.Input("extras", ""); v != "" {
			extras = splitList(v)
		}

		cmd := InstallCommand(python(sc, cfg), sc.Input("path", "."), extras, editable)
		res, err := sc.Exec(ctx, "pip", cmd)
		if err != nil {
			return err
		}
		return pipeline.ResultErr(res, "pip install")
	}
}

// InstallCommand builds the pip invocation.
func InstallCommand(py, path string, extras []string, editable bool) []string {
	target := path
	if len(extras) > 0 {
		target += "[" + strings.Join(extras, ",") + "]"
	}
	cmd := []string{py, "-m", "pip", "install"}
	if editable {
		cmd = append(cmd, "-e")
	}
	return append(cmd, target)
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, f)
	}
	return out
}
