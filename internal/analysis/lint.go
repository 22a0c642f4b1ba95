package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

// LintConfig configures one flake8 check.
type LintConfig struct {
	Name    string
	Command []string
	Target  string
	// Plugins must be registered with flake8 for the check to run.
	Plugins []string
}

// DefaultLintConfigs returns the library and test tree checks.
func DefaultLintConfigs() []LintConfig {
	plugins := []string{"flake8-print", "flake8-import-order"}
	return []LintConfig{
		{Name: "flake8-lib", Target: "autoPyTorch", Plugins: plugins},
		{Name: "flake8-test", Target: "test", Plugins: plugins},
	}
}

func (c LintConfig) command() []string {
	cmd := append([]string{}, c.Command...)
	if len(cmd) == 0 {
		cmd = []string{"flake8"}
	}
	return cmd
}

// LintCommand builds the flake8 invocation.
func LintCommand(cfg LintConfig) []string {
	target := cfg.Target
	if target == "" {
		target = "."
	}
	return append(cfg.command(), target)
}

// file.py:3:1: T001 print found.
var lintRE = regexp.MustCompile(`^(.+?):(\d+):(\d+): ([A-Z]+\d+) (.*)$`)

// ParseLint parses flake8 output. Every finding is an error.
func ParseLint(output string) []Finding {
	var out []Finding
	for _, line := range strings.Split(output, "\n") {
		m := lintRE.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		out = append(out, Finding{
			Tool:     "flake8",
			File:     m[1],
			Line:     lineNo,
			Col:      col,
			Severity: SeverityError,
			Code:     m[4],
			Message:  m[5],
		})
	}
	sortFindings(out)
	return out
}

// MissingPlugins returns the plugins absent from flake8 --version output,
// e.g. "3.9.2 (flake8-print: 4.0.0, mccabe: 0.6.1) CPython 3.8.10 on Linux".
func MissingPlugins(versionOutput string, plugins []string) []string {
	var missing []string
	for _, p := range plugins {
		if !strings.Contains(versionOutput, p+":") && !strings.Contains(versionOutput, strings.TrimPrefix(p, "flake8-")+":") {
			missing = append(missing, p)
		}
	}
	return missing
}

// Lint runs one flake8 check in dir. Configured plugins are verified to be
// registered first so a missing plugin cannot silently pass the check.
func Lint(ctx context.Context, runner exec.Runner, cfg LintConfig, dir string) (*Result, error) {
	name := cfg.Name
	if name == "" {
		name = "flake8"
	}

	if len(cfg.Plugins) > 0 {
		ver, err := runner.Run(ctx, exec.Step{
			ID:      name + "-version",
			Cmd:     append(cfg.command(), "--version"),
			Workdir: dir,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStyleFailed, fmt.Sprintf("%s could not run", name), err).
				WithSuggestion("Install flake8 in the active interpreter")
		}
		if missing := MissingPlugins(ver.Combined(), cfg.Plugins); len(missing) > 0 {
			return nil, errors.New(errors.ErrCodeStyleFailed,
				fmt.Sprintf("%s: plugins not installed: %s", name, strings.Join(missing, ", "))).
				WithSuggestion(fmt.Sprintf("pip install %s", strings.Join(missing, " ")))
		}
	}

	res, err := runner.Run(ctx, exec.Step{
		ID:      name,
		Cmd:     LintCommand(cfg),
		Workdir: dir,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStyleFailed, fmt.Sprintf("%s could not run", name), err)
	}

	result := &Result{
		Name:     name,
		ExitCode: res.ExitCode,
		Output:   res.Combined(),
		Findings: ParseLint(res.Stdout),
	}
	if result.Passed() {
		return result, nil
	}

	msg := fmt.Sprintf("%s reported %d violation(s)", name, len(result.Findings))
	if len(result.Findings) > 0 {
		msg += "\n" + describe(result.Findings, 50)
	} else {
		msg += fmt.Sprintf(" (exit code %d)\n%s", res.ExitCode, strings.TrimSpace(result.Output))
	}
	return result, errors.New(errors.ErrCodeStyleFailed, msg)
}
