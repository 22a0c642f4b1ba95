package exec

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestLocalRunner(t *testing.T) {
	tests := []struct {
		name       string
		step       Step
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "success",
			step:       Step{ID: "ok", Cmd: sh("echo hello")},
			wantCode:   0,
			wantStdout: "hello\n",
		},
		{
			name:       "non-zero exit",
			step:       Step{ID: "fail", Cmd: sh("echo oops >&2; exit 3")},
			wantCode:   3,
			wantStderr: "oops\n",
		},
		{
			name:       "env overlay",
			step:       Step{ID: "env", Cmd: sh(`printf "%s" "$CIGATE_TEST_VALUE"`), Env: map[string]string{"CIGATE_TEST_VALUE": "42"}},
			wantStdout: "42",
		},
	}

	runner := NewLocalRunner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runner.Run(context.Background(), tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantStdout, res.Stdout)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.False(t, res.TimedOut)
			assert.Equal(t, tt.wantCode == 0, res.Success())
		})
	}
}

func TestLocalRunnerWorkdir(t *testing.T) {
	dir := t.TempDir()
	res, err := NewLocalRunner().Run(context.Background(), Step{ID: "pwd", Cmd: []string{"pwd", "-P"}, Workdir: dir})
	require.NoError(t, err)
	assert.Contains(t, strings.TrimSpace(res.Stdout), strings.TrimPrefix(dir, "/private"))
}

func TestLocalRunnerTimeout(t *testing.T) {
	start := time.Now()
	res, err := NewLocalRunner().Run(context.Background(), Step{
		ID:        "hang",
		Cmd:       sh("sleep 30"),
		Timeout:   200 * time.Millisecond,
		KillGrace: time.Second,
	})

	require.NoError(t, err, "a timeout is a failed result, not a runner error")
	assert.True(t, res.TimedOut)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.False(t, res.Success())
	assert.True(t, errors.HasCode(res.Error, errors.ErrCodeExecTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocalRunnerTimeoutIgnoringSIGTERM(t *testing.T) {
	start := time.Now()
	res, err := NewLocalRunner().Run(context.Background(), Step{
		ID:        "stubborn",
		Cmd:       sh(`trap "" TERM; sleep 30 & wait`),
		Timeout:   200 * time.Millisecond,
		KillGrace: 300 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second, "SIGKILL must follow the grace period")
}

func TestLocalRunnerKillsDescendants(t *testing.T) {
	start := time.Now()
	res, err := NewLocalRunner().Run(context.Background(), Step{
		ID:        "tree",
		Cmd:       sh("sleep 30 & sleep 30 & wait"),
		Timeout:   200 * time.Millisecond,
		KillGrace: 200 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocalRunnerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := NewLocalRunner().Run(ctx, Step{ID: "cancel", Cmd: sh("sleep 30")})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.False(t, res.TimedOut)
}

func TestLocalRunnerStreamsOutput(t *testing.T) {
	var out bytes.Buffer
	res, err := NewLocalRunner().Run(context.Background(), Step{ID: "stream", Cmd: sh("echo a; echo b >&2"), Output: &out})
	require.NoError(t, err)
	assert.Equal(t, "a\n", res.Stdout)
	assert.Contains(t, out.String(), "a\n")
	assert.Contains(t, out.String(), "b\n")
}

func TestLocalRunnerErrors(t *testing.T) {
	_, err := NewLocalRunner().Run(context.Background(), Step{ID: "empty"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecStartFailed))

	_, err = NewLocalRunner().Run(context.Background(), Step{ID: "missing", Cmd: []string{"/nonexistent/binary"}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecStartFailed))
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv([]string{"A=1", "B=2", "PYTHONPATH=/src"}, map[string]string{"B": "3", "PYTHONPATH": ""})
	assert.Equal(t, []string{"A=1", "B=3", "PYTHONPATH="}, got)
}
