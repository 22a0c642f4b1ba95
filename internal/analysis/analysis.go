// Package analysis runs the type checker and the style checkers and parses
// their diagnostics into findings.
package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Severity levels of a finding.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityNote    = "note"
)

// Finding is one diagnostic reported by a checker.
type Finding struct {
	Tool     string
	File     string
	Line     int
	Col      int
	Severity string
	Code     string
	Message  string
}

// Location renders file:line[:col].
func (f Finding) Location() string {
	if f.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Col)
	}
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

func (f Finding) String() string {
	s := fmt.Sprintf("%s: %s: %s", f.Location(), f.Severity, f.Message)
	if f.Code != "" {
		s += fmt.Sprintf(" [%s]", f.Code)
	}
	return s
}

// Result is the outcome of one checker run.
type Result struct {
	Name     string
	ExitCode int
	Findings []Finding
	Output   string
}

// Errors returns the findings with error severity.
func (r *Result) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Passed reports whether the checker exited zero with no error findings.
func (r *Result) Passed() bool {
	return r.ExitCode == 0 && len(r.Errors()) == 0
}

func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].File != fs[j].File {
			return fs[i].File < fs[j].File
		}
		if fs[i].Line != fs[j].Line {
			return fs[i].Line < fs[j].Line
		}
		return fs[i].Col < fs[j].Col
	})
}

func describe(fs []Finding, limit int) string {
	lines := make([]string, 0, len(fs))
	for i, f := range fs {
		if i == limit {
			lines = append(lines, fmt.Sprintf("... and %d more", len(fs)-limit))
			break
		}
		lines = append(lines, "  "+f.String())
	}
	return strings.Join(lines, "\n")
}
