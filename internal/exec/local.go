package exec

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// LocalRunner runs steps as host processes. Each command gets its own
// process group so a timeout reaches every descendant.
type LocalRunner struct {
	// KillGrace applies to steps that do not set their own.
	KillGrace time.Duration
}

// NewLocalRunner returns a LocalRunner with the default kill grace.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{KillGrace: DefaultKillGrace}
}

// Run executes the step and waits for it. On timeout the process group is
// sent SIGTERM, then SIGKILL after the grace period, and the result carries
// TimedOut and exit code 124. Cancelling ctx terminates the same way and
// returns ctx.Err().
func (r *LocalRunner) Run(ctx context.Context, step Step) (*Result, error) {
	if len(step.Cmd) == 0 {
		return nil, errors.New(errors.ErrCodeExecStartFailed, fmt.Sprintf("step %s has no command", step.ID))
	}

	grace := step.KillGrace
	if grace <= 0 {
		grace = r.KillGrace
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	cmd := osexec.Command(step.Cmd[0], step.Cmd[1:]...)
	cmd.Dir = step.Workdir
	cmd.Env = MergeEnv(os.Environ(), step.Env)
	cmd.WaitDelay = grace
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	if step.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, step.Output)
		cmd.Stderr = io.MultiWriter(&stderr, step.Output)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExecStartFailed,
			fmt.Sprintf("failed to start %s", step.Cmd[0]), err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if step.Timeout > 0 {
		timer := time.NewTimer(step.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		waitErr   error
		timedOut  bool
		cancelled bool
	)
	select {
	case waitErr = <-done:
	case <-timeout:
		timedOut = true
		waitErr = terminate(cmd, done, grace)
	case <-ctx.Done():
		cancelled = true
		waitErr = terminate(cmd, done, grace)
	}

	result := &Result{
		ExitCode: exitCode(waitErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: timedOut,
		Error:    waitErr,
	}

	if timedOut {
		result.ExitCode = TimeoutExitCode
		result.Error = errors.New(errors.ErrCodeExecTimeout,
			fmt.Sprintf("%s timed out after %s", step.Cmd[0], step.Timeout))
	}
	if cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// terminate stops the process group: SIGTERM first, SIGKILL after grace.
func terminate(cmd *osexec.Cmd, done <-chan error, grace time.Duration) error {
	signalGroup(cmd, sigTerm)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		signalGroup(cmd, sigKill)
		return <-done
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if stderrors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// MergeEnv overlays vars on base (KEY=VALUE entries). Later keys win and
// the result is sorted for reproducible manifests.
func MergeEnv(base []string, vars map[string]string) []string {
	merged := make(map[string]string, len(base)+len(vars))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range vars {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
