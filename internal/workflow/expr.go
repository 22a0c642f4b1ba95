package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	placeholderRE = regexp.MustCompile(`\$\{\{\s*(matrix|env)\.([A-Za-z0-9_.-]+)\s*\}\}`)
	matrixCondRE  = regexp.MustCompile(`^matrix\.([A-Za-z0-9_-]+)\s*(==|!=)\s*'([^']*)'$`)
)

// Interpolate replaces ${{ matrix.<key> }} and ${{ env.<KEY> }}
// placeholders. Unknown keys expand to the empty string.
func Interpolate(s string, params, env map[string]string) string {
	if !strings.Contains(s, "${{") {
		return s
	}
	return placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderRE.FindStringSubmatch(m)
		if sub[1] == "matrix" {
			return params[sub[2]]
		}
		return env[sub[2]]
	})
}

// ConditionKind classifies a step's if: expression.
type ConditionKind int

const (
	// CondSuccess runs the step only while no earlier step failed.
	CondSuccess ConditionKind = iota
	// CondAlways runs the step regardless of earlier failures or cancellation.
	CondAlways
	// CondFailure runs the step only after an earlier failure.
	CondFailure
	// CondMatrix runs the step while no earlier step failed and a matrix
	// parameter compares as required.
	CondMatrix
)

// Condition is a parsed if: expression.
type Condition struct {
	Kind   ConditionKind
	Key    string
	Value  string
	Negate bool
}

// ParseCondition parses the supported if: expressions. An optional
// ${{ }} wrapper is accepted.
func ParseCondition(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	if strings.HasPrefix(s, "${{") && strings.HasSuffix(s, "}}") {
		s = strings.TrimSpace(s[3 : len(s)-2])
	}

	switch s {
	case "", "success()":
		return Condition{Kind: CondSuccess}, nil
	case "always()":
		return Condition{Kind: CondAlways}, nil
	case "failure()":
		return Condition{Kind: CondFailure}, nil
	}

	if m := matrixCondRE.FindStringSubmatch(s); m != nil {
		return Condition{Kind: CondMatrix, Key: m[1], Value: m[3], Negate: m[2] == "!="}, nil
	}
	return Condition{}, fmt.Errorf("unsupported condition %q", expr)
}

// Eval decides whether a step runs given the job state so far.
func (c Condition) Eval(failed, cancelled bool, params map[string]string) bool {
	switch c.Kind {
	case CondAlways:
		return true
	case CondFailure:
		return failed && !cancelled
	case CondMatrix:
		if failed || cancelled {
			return false
		}
		return (params[c.Key] == c.Value) != c.Negate
	default:
		return !failed && !cancelled
	}
}
