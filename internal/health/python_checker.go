package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/actions"
	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

// PythonChecker checks that the interpreter of one matrix python-version
// exists and reports that version.
type PythonChecker struct {
	runner  exec.Runner
	exe     string
	version string
}

// NewPythonChecker creates a checker for interpreter exe, expected to be
// python-version version (e.g. "3.8").
func NewPythonChecker(runner exec.Runner, exe, version string) *PythonChecker {
	return &PythonChecker{runner: runner, exe: exe, version: version}
}

// Name returns the name of this health check.
func (c *PythonChecker) Name() string {
	return "python-" + c.version
}

// Check runs `<exe> --version` and matches it against the expected version.
func (c *PythonChecker) Check(ctx context.Context) *Result {
	res, err := c.runner.Run(ctx, exec.Step{ID: "doctor-" + c.Name(), Cmd: []string{c.exe, "--version"}})
	if err != nil || !res.Success() {
		r := Unhealthy(fmt.Sprintf("%s is not runnable", c.exe)).
			WithSuggestion(fmt.Sprintf("Install Python %s or set project.python", c.version))
		if err != nil {
			r.WithError(err)
		}
		return r
	}

	got, err := actions.ParsePythonVersion(res.Combined())
	if err != nil {
		return Degraded("cannot parse interpreter version").WithDetail("output", strings.TrimSpace(res.Combined()))
	}
	ok, err := actions.VersionMatches(got, c.version)
	if err != nil {
		return Unhealthy(err.Error())
	}
	if !ok {
		return Degraded(fmt.Sprintf("%s reports %s, expected %s", c.exe, got, c.version)).
			WithDetail(DetailVersion, got.String())
	}
	return Healthy(fmt.Sprintf("%s %s", c.exe, got)).WithDetail(DetailVersion, got.String())
}

// Tool is a Python module a gate invokes with `python -m`.
type Tool struct {
	Module string
	// Plugins must appear in the module's --version output (flake8).
	Plugins []string
}

// ToolChecker checks that the Python tools the gates run are installed.
type ToolChecker struct {
	runner exec.Runner
	python string
	tools  []Tool
}

// NewToolChecker creates a checker for tools run by interpreter python.
func NewToolChecker(runner exec.Runner, python string, tools ...Tool) *ToolChecker {
	return &ToolChecker{runner: runner, python: python, tools: tools}
}

// Name returns the name of this health check.
func (c *ToolChecker) Name() string {
	return "python-tools"
}

// Check runs `python -m <module> --version` for every tool.
func (c *ToolChecker) Check(ctx context.Context) *Result {
	var missing []string
	versions := map[string]string{}

	for _, t := range c.tools {
		res, err := c.runner.Run(ctx, exec.Step{
			ID:  "doctor-" + t.Module,
			Cmd: []string{c.python, "-m", t.Module, "--version"},
		})
		if err != nil || !res.Success() {
			missing = append(missing, t.Module)
			continue
		}
		out := strings.TrimSpace(res.Combined())
		for _, p := range analysis.MissingPlugins(out, t.Plugins) {
			missing = append(missing, p)
		}
		versions[t.Module] = firstLine(out)
	}

	if len(missing) > 0 {
		return Unhealthy("missing: " + strings.Join(missing, ", ")).
			WithSuggestion(fmt.Sprintf("%s -m pip install %s", c.python, strings.Join(missing, " ")))
	}
	r := Healthy(fmt.Sprintf("%d tools installed", len(c.tools)))
	for k, v := range versions {
		r.WithDetail(k, v)
	}
	return r
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
