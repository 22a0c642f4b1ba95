package testrun

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

// Case is one isolated test: a command run in its own process group.
type Case struct {
	Name string
	Cmd  []string
	Dir  string
	Env  map[string]string
}

// Status is the outcome of a case.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed out"
	StatusSkipped  Status = "skipped"
)

// CaseResult records one case.
type CaseResult struct {
	Name     string
	Status   Status
	ExitCode int
	Duration time.Duration
	Output   string
	Err      error
}

// Failed reports whether the case counts as a failure. A timed-out case
// is a failure.
func (r CaseResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusTimedOut
}

// SuiteResult holds every case result in input order.
type SuiteResult struct {
	Cases    []CaseResult
	Duration time.Duration
}

// Summary folds the case results into counts.
func (r *SuiteResult) Summary() *Summary {
	s := &Summary{Duration: r.Duration}
	for _, c := range r.Cases {
		switch c.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
			s.FailedTests = append(s.FailedTests, c.Name)
		case StatusTimedOut:
			s.TimedOut++
			s.FailedTests = append(s.FailedTests, c.Name)
		case StatusSkipped:
			s.Skipped++
		}
	}
	if s.Failed > 0 || s.TimedOut > 0 {
		s.ExitCode = 1
	}
	return s
}

// Err returns a TEST-001 error listing failing cases, or nil.
func (r *SuiteResult) Err() error {
	s := r.Summary()
	if s.OK() {
		return nil
	}
	return errors.New(errors.ErrCodeTestsFailed,
		fmt.Sprintf("tests failed: %s\n  %s", s, strings.Join(s.FailedTests, "\n  ")))
}

// Suite runs cases concurrently on a bounded number of workers. Each case
// gets its own subprocess and timeout; a crashing or hanging case never
// affects its siblings.
type Suite struct {
	Runner    exec.Runner
	Timeout   time.Duration
	KillGrace time.Duration
	// Workers bounds concurrency; values below 1 mean 1.
	Workers int
}

// Run executes every case. Cancelling ctx stops cases that have not
// started; they are reported as skipped.
func (s *Suite) Run(ctx context.Context, cases []Case) *SuiteResult {
	start := time.Now()
	results := make([]CaseResult, len(cases))

	var g errgroup.Group
	g.SetLimit(max(s.Workers, 1))
	for i, c := range cases {
		// runCase reports cases still queued at cancellation as skipped.
		g.Go(func() error {
			results[i] = s.runCase(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	return &SuiteResult{Cases: results, Duration: time.Since(start)}
}

func (s *Suite) runCase(ctx context.Context, c Case) CaseResult {
	if ctx.Err() != nil {
		return CaseResult{Name: c.Name, Status: StatusSkipped, Err: ctx.Err()}
	}

	res, err := s.Runner.Run(ctx, exec.Step{
		ID:        c.Name,
		Cmd:       c.Cmd,
		Workdir:   c.Dir,
		Env:       c.Env,
		Timeout:   s.Timeout,
		KillGrace: s.KillGrace,
	})

	out := CaseResult{Name: c.Name, Err: err}
	if res != nil {
		out.ExitCode = res.ExitCode
		out.Duration = res.Duration
		out.Output = res.Combined()
	}

	switch {
	case res != nil && res.TimedOut:
		out.Status = StatusTimedOut
		out.Err = res.Error
	case err != nil || res == nil || res.ExitCode != 0:
		out.Status = StatusFailed
	default:
		out.Status = StatusPassed
	}
	return out
}

// FileCases splits a pytest run into one case per test file found under
// opts.Paths (test_*.py and *_test.py, relative to opts.Dir). Coverage is
// dropped since concurrent cases would overwrite one report.
func FileCases(opts Options) ([]Case, error) {
	var files []string
	for _, p := range opts.Paths {
		root := filepath.Join(opts.Dir, p)
		info, err := os.Stat(root)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTestsNotRun, fmt.Sprintf("test path %s", p), err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isTestFile(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(opts.Dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTestsNotRun, fmt.Sprintf("scan %s", p), err)
		}
	}
	sort.Strings(files)

	cases := make([]Case, 0, len(files))
	for _, f := range files {
		o := opts
		o.Paths = []string{f}
		o.Coverage = false
		cases = append(cases, Case{Name: f, Cmd: Command(o), Dir: opts.Dir, Env: opts.Env})
	}
	return cases, nil
}

func isTestFile(name string) bool {
	if filepath.Ext(name) != ".py" {
		return false
	}
	return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")
}
