package testrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "default",
			opts: DefaultOptions(),
			want: "python -m pytest --forked --timeout=600 --timeout_method=signal test",
		},
		{
			name: "coverage entry",
			opts: func() Options {
				o := DefaultOptions()
				o.Python = "python3.8"
				o.Verbose = true
				o.Coverage = true
				o.CoveragePackage = "autoPyTorch"
				return o
			}(),
			want: "python3.8 -m pytest --forked --timeout=600 --timeout_method=signal -v --cov=autoPyTorch --cov-report=xml test",
		},
		{
			name: "regression",
			opts: RegressionOptions([]string{"test/test_pipeline/test_preselected_configs.py"}, 20),
			want: "python -m pytest --forked --timeout=600 --timeout_method=signal --durations=20 test/test_pipeline/test_preselected_configs.py",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strings.Join(Command(tt.opts), " "))
		})
	}
}

const pytestOutput = `============================= test session starts ==============================
collected 5 items

test/test_a.py ..F
test/test_b.py s

+++++++++++++++++++++++++++++++++++ Timeout ++++++++++++++++++++++++++++++++++++
~~~~~~~~~~~~~~~~~~~~~ Stack of MainThread (140) ~~~~~~~~~~~~~~~~~~~~~
+++++++++++++++++++++++++++++++++++ Timeout ++++++++++++++++++++++++++++++++++++

============================= slowest 3 durations ==============================
600.01s call     test/test_b.py::test_hangs
2.50s call     test/test_a.py::test_fit
0.10s setup    test/test_a.py::test_fit
=========================== short test summary info ============================
FAILED test/test_a.py::test_predict - AssertionError
FAILED test/test_b.py::test_hangs - Failed: Timeout >600.0s
=================== 2 failed, 2 passed, 1 skipped in 603.21s ===================
`

func TestParseOutput(t *testing.T) {
	s := ParseOutput(pytestOutput)

	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.TimedOut, "one banner pair per timed-out test")
	assert.Equal(t, []string{"test/test_a.py::test_predict", "test/test_b.py::test_hangs"}, s.FailedTests)
	require.Len(t, s.Slowest, 3)
	assert.Equal(t, Duration{Seconds: 600.01, Phase: "call", Test: "test/test_b.py::test_hangs"}, s.Slowest[0])
	assert.False(t, s.OK())
}

func TestParseOutputAllPassed(t *testing.T) {
	s := ParseOutput("==== 12 passed, 3 warnings in 1.02s ====\n")
	assert.Equal(t, 12, s.Passed)
	assert.True(t, s.OK())
	assert.Equal(t, "12 passed", s.String())
}

func fakeRunner(exitCode int, stdout string) exec.Runner {
	return exec.RunnerFunc(func(_ context.Context, step exec.Step) (*exec.Result, error) {
		return &exec.Result{ExitCode: exitCode, Stdout: stdout}, nil
	})
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		stdout   string
		wantCode errors.ErrorCode
	}{
		{"passed", 0, "=== 3 passed in 0.1s ===", ""},
		{"failed", 1, pytestOutput, errors.ErrCodeTestsFailed},
		{"no tests", 5, "=== no tests ran in 0.01s ===", errors.ErrCodeTestsNotRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := Run(context.Background(), fakeRunner(tt.exitCode, tt.stdout), DefaultOptions())
			require.NotNil(t, summary)
			assert.Equal(t, tt.exitCode, summary.ExitCode)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestSuiteHangingCaseIsKilled(t *testing.T) {
	suite := &Suite{
		Runner:    exec.NewLocalRunner(),
		Timeout:   300 * time.Millisecond,
		KillGrace: 200 * time.Millisecond,
		Workers:   2,
	}
	cases := []Case{
		{Name: "test_ok", Cmd: []string{"/bin/sh", "-c", "exit 0"}},
		{Name: "test_hangs", Cmd: []string{"/bin/sh", "-c", "sleep 60"}},
		{Name: "test_fails", Cmd: []string{"/bin/sh", "-c", "exit 1"}},
		{Name: "test_crashes", Cmd: []string{"/bin/sh", "-c", "kill -SEGV $$"}},
		{Name: "test_ok_after", Cmd: []string{"/bin/sh", "-c", "exit 0"}},
	}

	start := time.Now()
	result := suite.Run(context.Background(), cases)
	elapsed := time.Since(start)

	// timeout plus grace plus a generous bound for process overhead
	assert.Less(t, elapsed, 300*time.Millisecond+200*time.Millisecond+5*time.Second)

	statuses := map[string]Status{}
	for _, c := range result.Cases {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, map[string]Status{
		"test_ok":       StatusPassed,
		"test_hangs":    StatusTimedOut,
		"test_fails":    StatusFailed,
		"test_crashes":  StatusFailed,
		"test_ok_after": StatusPassed,
	}, statuses)

	summary := result.Summary()
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.False(t, summary.OK())

	err := result.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_hangs")
	assert.True(t, errors.HasCode(err, errors.ErrCodeTestsFailed))
}

func TestSuiteRespectsWorkerBound(t *testing.T) {
	var running, peak atomic.Int32
	runner := exec.RunnerFunc(func(ctx context.Context, step exec.Step) (*exec.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return &exec.Result{}, nil
	})

	cases := make([]Case, 8)
	for i := range cases {
		cases[i] = Case{Name: string(rune('a' + i)), Cmd: []string{"x"}}
	}

	result := (&Suite{Runner: runner, Workers: 2}).Run(context.Background(), cases)
	assert.NoError(t, result.Err())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSuiteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := (&Suite{Runner: fakeRunner(0, ""), Workers: 1}).Run(ctx, []Case{{Name: "a", Cmd: []string{"x"}}})
	assert.Equal(t, StatusSkipped, result.Cases[0].Status)
}

func TestSuiteCancelWhileQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := exec.RunnerFunc(func(context.Context, exec.Step) (*exec.Result, error) {
		cancel()
		return &exec.Result{}, nil
	})

	cases := []Case{{Name: "first", Cmd: []string{"x"}}, {Name: "second", Cmd: []string{"x"}}, {Name: "third", Cmd: []string{"x"}}}
	result := (&Suite{Runner: runner, Workers: 1}).Run(ctx, cases)

	require.Len(t, result.Cases, 3)
	assert.Equal(t, StatusPassed, result.Cases[0].Status)
	assert.Equal(t, StatusSkipped, result.Cases[1].Status)
	assert.Equal(t, StatusSkipped, result.Cases[2].Status)
}

func TestFileCases(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{
		"test/test_api.py",
		"test/unit/test_models.py",
		"test/unit/helpers.py",
		"test/unit/pipeline_test.py",
		"test/conftest.py",
	} {
		path := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	opts := DefaultOptions()
	opts.Dir = dir
	opts.Coverage = true
	opts.CoveragePackage = "autoPyTorch"

	cases, err := FileCases(opts)
	require.NoError(t, err)

	var names []string
	for _, c := range cases {
		names = append(names, c.Name)
		assert.Equal(t, dir, c.Dir)
		assert.Equal(t, c.Name, c.Cmd[len(c.Cmd)-1])
		assert.NotContains(t, strings.Join(c.Cmd, " "), "--cov")
	}
	assert.Equal(t, []string{
		"test/test_api.py",
		"test/unit/pipeline_test.py",
		"test/unit/test_models.py",
	}, names)
}

func TestFileCasesMissingPath(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = t.TempDir()

	_, err := FileCases(opts)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTestsNotRun))
}
