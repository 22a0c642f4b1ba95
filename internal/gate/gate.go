// Package gate runs independent static-analysis checks and reports them
// together. Every failing check fails the gate; nothing is fixed
// automatically.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Check is one named gate check.
type Check struct {
	Name string
	Run  func(ctx context.Context) (*analysis.Result, error)
}

// CheckResult represents the result of a single check.
type CheckResult struct {
	Name     string
	Passed   bool
	Message  string
	Findings []analysis.Finding
	Duration time.Duration
	Err      error
}

// Report contains all check results.
type Report struct {
	Checks      []CheckResult
	TotalPassed int
	TotalFailed int
	AllPassed   bool
	Duration    time.Duration
}

// Run executes every check concurrently. A failing check never prevents
// the others from running; results keep the order of checks.
func Run(ctx context.Context, checks ...Check) *Report {
	start := time.Now()
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Checks: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Passed {
			report.TotalPassed++
		} else {
			report.TotalFailed++
		}
	}
	report.AllPassed = report.TotalFailed == 0
	return report
}

func runCheck(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	res, err := c.Run(ctx)

	out := CheckResult{Name: c.Name, Err: err, Duration: time.Since(start)}
	if res != nil {
		out.Findings = res.Findings
	}

	switch {
	case err != nil:
		out.Message = firstLine(err.Error())
	case res == nil || !res.Passed():
		out.Message = "check failed"
	default:
		out.Passed = true
		out.Message = "passed"
	}
	if !out.Passed && err == nil {
		out.Err = errors.New(errors.ErrCodeStyleFailed, fmt.Sprintf("%s failed", c.Name))
	}
	return out
}

// Err returns nil when every check passed and otherwise an error naming
// the failed checks. The error code is that of the first failure.
func (r *Report) Err() error {
	if r.AllPassed {
		return nil
	}
	var names []string
	var first error
	for _, c := range r.Checks {
		if c.Passed {
			continue
		}
		names = append(names, c.Name)
		if first == nil {
			first = c.Err
		}
	}
	code := errors.Code(first)
	if code == "" {
		code = errors.ErrCodeStyleFailed
	}
	return errors.Wrap(code, fmt.Sprintf("static-analysis gate failed: %s", strings.Join(names, ", ")), first)
}

// Findings returns all findings across checks.
func (r *Report) Findings() []analysis.Finding {
	var out []analysis.Finding
	for _, c := range r.Checks {
		out = append(out, c.Findings...)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
