// Package testrun runs test suites with process isolation and per-test
// timeouts, and summarises their results.
package testrun

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

// Options configures a pytest invocation.
type Options struct {
	Python string
	Paths  []string
	// Forked runs every test in its own forked subprocess.
	Forked bool
	// Timeout is the per-test wall-clock limit.
	Timeout       time.Duration
	TimeoutMethod string

	Coverage        bool
	CoveragePackage string
	CoverageReport  string

	// Durations reports the N slowest tests; zero disables the report.
	Durations int
	Markers   string
	Keyword   string
	Verbose   bool

	Dir string
	Env map[string]string
	// SuiteTimeout bounds the whole run; zero means none.
	SuiteTimeout time.Duration
	Output       io.Writer
}

// DefaultOptions mirrors the reviewed CI invocation.
func DefaultOptions() Options {
	return Options{
		Python:         "python",
		Paths:          []string{"test"},
		Forked:         true,
		Timeout:        600 * time.Second,
		TimeoutMethod:  "signal",
		CoverageReport: "xml",
	}
}

// RegressionOptions runs the curated preselected-configuration subset with
// a report of the longest tests.
func RegressionOptions(paths []string, durations int) Options {
	opts := DefaultOptions()
	opts.Paths = paths
	opts.Durations = durations
	return opts
}

// Command builds the pytest command line.
func Command(opts Options) []string {
	python := opts.Python
	if python == "" {
		python = "python"
	}
	cmd := []string{python, "-m", "pytest"}

	if opts.Forked {
		cmd = append(cmd, "--forked")
	}
	if opts.Timeout > 0 {
		cmd = append(cmd, fmt.Sprintf("--timeout=%d", int(opts.Timeout.Round(time.Second)/time.Second)))
		method := opts.TimeoutMethod
		if method == "" {
			method = "signal"
		}
		cmd = append(cmd, "--timeout_method="+method)
	}
	if opts.Verbose {
		cmd = append(cmd, "-v")
	}
	if opts.Coverage {
		pkg := opts.CoveragePackage
		if pkg == "" {
			pkg = "."
		}
		report := opts.CoverageReport
		if report == "" {
			report = "xml"
		}
		cmd = append(cmd, "--cov="+pkg, "--cov-report="+report)
	}
	if opts.Durations > 0 {
		cmd = append(cmd, fmt.Sprintf("--durations=%d", opts.Durations))
	}
	if opts.Markers != "" {
		cmd = append(cmd, "-m", opts.Markers)
	}
	if opts.Keyword != "" {
		cmd = append(cmd, "-k", opts.Keyword)
	}
	return append(cmd, opts.Paths...)
}

// Duration is one entry of the slowest-tests report.
type Duration struct {
	Seconds float64
	Phase   string
	Test    string
}

// Summary is the parsed outcome of a pytest run.
type Summary struct {
	ExitCode int
	Passed   int
	Failed   int
	Skipped  int
	Errors   int
	TimedOut int
	// FailedTests lists node ids from the short test summary.
	FailedTests []string
	Slowest     []Duration
	Duration    time.Duration
}

// OK reports whether every collected test passed.
func (s *Summary) OK() bool {
	return s.ExitCode == 0 && s.Failed == 0 && s.Errors == 0 && s.TimedOut == 0
}

// String renders the counts the way pytest's final line does.
func (s *Summary) String() string {
	parts := []string{}
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.Failed, "failed")
	add(s.Passed, "passed")
	add(s.Skipped, "skipped")
	add(s.Errors, "errors")
	add(s.TimedOut, "timed out")
	if len(parts) == 0 {
		return "no tests ran"
	}
	return strings.Join(parts, ", ")
}

var (
	countRE    = regexp.MustCompile(`(\d+) (passed|failed|skipped|errors?|xfailed|xpassed)`)
	finalRE    = regexp.MustCompile(`(?m)^=+ (.*\d+ (?:passed|failed|skipped|errors?|xfailed|xpassed|deselected).*) =+\s*$`)
	timeoutRE  = regexp.MustCompile(`(?m)^\++ Timeout \++\s*$`)
	failedRE   = regexp.MustCompile(`(?m)^(?:FAILED|ERROR) (\S+)`)
	durationRE = regexp.MustCompile(`(?m)^(\d+\.\d+)s (setup|call|teardown)\s+(\S+)`)
)

// ParseOutput extracts a Summary from pytest's terminal output.
func ParseOutput(output string) *Summary {
	s := &Summary{}

	if finals := finalRE.FindAllStringSubmatch(output, -1); len(finals) > 0 {
		line := finals[len(finals)-1][1]
		for _, m := range countRE.FindAllStringSubmatch(line, -1) {
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "passed", "xpassed":
				s.Passed += n
			case "failed":
				s.Failed += n
			case "skipped", "xfailed":
				s.Skipped += n
			case "error", "errors":
				s.Errors += n
			}
		}
	}

	s.TimedOut = len(timeoutRE.FindAllString(output, -1))

	seen := map[string]bool{}
	for _, m := range failedRE.FindAllStringSubmatch(output, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			s.FailedTests = append(s.FailedTests, m[1])
		}
	}

	for _, m := range durationRE.FindAllStringSubmatch(output, -1) {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		s.Slowest = append(s.Slowest, Duration{Seconds: secs, Phase: m[2], Test: m[3]})
	}
	return s
}

// Run executes pytest through runner. Test failures, timed-out tests and
// errors are reported in the Summary and as a TEST-001 error; the suite is
// never stopped early because of them.
func Run(ctx context.Context, runner exec.Runner, opts Options) (*Summary, error) {
	res, err := runner.Run(ctx, exec.Step{
		ID:      "pytest",
		Cmd:     Command(opts),
		Workdir: opts.Dir,
		Env:     opts.Env,
		Timeout: opts.SuiteTimeout,
		Output:  opts.Output,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTestsNotRun, "test runner could not run", err)
	}

	summary := ParseOutput(res.Stdout + "\n" + res.Stderr)
	summary.ExitCode = res.ExitCode
	summary.Duration = res.Duration

	switch {
	case res.TimedOut:
		return summary, errors.New(errors.ErrCodeTestsTimedOut,
			fmt.Sprintf("test suite exceeded %s and was terminated", opts.SuiteTimeout))
	case res.ExitCode == 0 && summary.OK():
		return summary, nil
	case res.ExitCode == 4 || res.ExitCode == 5 || res.ExitCode == 3:
		return summary, errors.New(errors.ErrCodeTestsNotRun,
			fmt.Sprintf("pytest exited with %d (%s)\n%s", res.ExitCode, exitReason(res.ExitCode), tail(res.Combined(), 20)))
	default:
		msg := fmt.Sprintf("tests failed: %s", summary)
		if len(summary.FailedTests) > 0 {
			msg += "\n  " + strings.Join(summary.FailedTests, "\n  ")
		}
		return summary, errors.New(errors.ErrCodeTestsFailed, msg)
	}
}

func exitReason(code int) string {
	switch code {
	case 2:
		return "interrupted"
	case 3:
		return "internal error"
	case 4:
		return "usage error"
	case 5:
		return "no tests collected"
	default:
		return "tests failed"
	}
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
