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

// TypeCheckConfig configures mypy.
type TypeCheckConfig struct {
	Command            []string
	Target             string
	Exclude            []string
	WarnRedundantCasts bool
	WarnReturnAny      bool
	WarnUnreachable    bool
	// StrictAsErrors reports return-any and unreachable diagnostics as
	// errors whatever severity the checker printed.
	StrictAsErrors bool
}

// DefaultTypeCheckConfig checks the library tree without its ensemble
// subpackage.
func DefaultTypeCheckConfig() TypeCheckConfig {
	return TypeCheckConfig{
		Command:            []string{"mypy"},
		Target:             "autoPyTorch",
		Exclude:            []string{"autoPyTorch/ensemble/"},
		WarnRedundantCasts: true,
		WarnReturnAny:      true,
		WarnUnreachable:    true,
		StrictAsErrors:     true,
	}
}

// TypeCheckCommand builds the mypy invocation.
func TypeCheckCommand(cfg TypeCheckConfig) []string {
	cmd := append([]string{}, cfg.Command...)
	if len(cmd) == 0 {
		cmd = []string{"mypy"}
	}
	cmd = append(cmd, "--show-column-numbers", "--show-error-codes", "--no-color-output")
	if cfg.WarnRedundantCasts {
		cmd = append(cmd, "--warn-redundant-casts")
	}
	if cfg.WarnReturnAny {
		cmd = append(cmd, "--warn-return-any")
	}
	if cfg.WarnUnreachable {
		cmd = append(cmd, "--warn-unreachable")
	}
	for _, ex := range cfg.Exclude {
		cmd = append(cmd, "--exclude", ex)
	}
	target := cfg.Target
	if target == "" {
		target = "."
	}
	return append(cmd, target)
}

// file.py:12:5: error: Message  [code]
var typeCheckRE = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?: (error|warning|note): (.*?)(?:\s+\[([a-z0-9-]+)\])?\s*$`)

var strictCodes = map[string]bool{
	"no-any-return":  true,
	"return-any":     true,
	"unreachable":    true,
	"redundant-cast": true,
}

// ParseTypeCheck parses mypy diagnostics. Returning Any and unreachable
// statements are always classified as errors.
func ParseTypeCheck(output string) []Finding {
	var out []Finding
	for _, line := range strings.Split(output, "\n") {
		m := typeCheckRE.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		f := Finding{
			Tool:     "mypy",
			File:     m[1],
			Line:     lineNo,
			Col:      col,
			Severity: m[4],
			Message:  m[5],
			Code:     m[6],
		}
		if f.Code == "" {
			f.Code = inferCode(f.Message)
		}
		if strictCodes[f.Code] {
			f.Severity = SeverityError
		}
		out = append(out, f)
	}
	sortFindings(out)
	return out
}

func inferCode(msg string) string {
	switch {
	case strings.HasPrefix(msg, "Returning Any from function"):
		return "no-any-return"
	case strings.HasPrefix(msg, "Statement is unreachable"):
		return "unreachable"
	case strings.HasPrefix(msg, "Redundant cast"):
		return "redundant-cast"
	}
	return ""
}

// TypeCheck runs mypy in dir. Error findings or a non-zero exit fail the
// check with LINT-001.
func TypeCheck(ctx context.Context, runner exec.Runner, cfg TypeCheckConfig, dir string) (*Result, error) {
	res, err := runner.Run(ctx, exec.Step{
		ID:      "typecheck",
		Cmd:     TypeCheckCommand(cfg),
		Workdir: dir,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTypeCheckFailed, "type checker could not run", err).
			WithSuggestion("Install mypy in the active interpreter")
	}

	result := &Result{
		Name:     "typecheck",
		ExitCode: res.ExitCode,
		Output:   res.Combined(),
		Findings: ParseTypeCheck(res.Stdout),
	}
	if result.Passed() {
		return result, nil
	}

	errs := result.Errors()
	msg := fmt.Sprintf("type check reported %d error(s)", len(errs))
	if len(errs) > 0 {
		msg += "\n" + describe(errs, 50)
	} else {
		msg += fmt.Sprintf(" (exit code %d)\n%s", res.ExitCode, strings.TrimSpace(result.Output))
	}
	return result, errors.New(errors.ErrCodeTypeCheckFailed, msg)
}
