package exec

import (
	"context"
	"io"
	"time"
)

// Runner kinds.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// TimeoutExitCode is reported for a command killed by its timeout,
// matching coreutils timeout(1).
const TimeoutExitCode = 124

// DefaultKillGrace is how long a command may handle SIGTERM before it is
// sent SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Step represents a single command execution
type Step struct {
	ID      string
	Runner  string   // "docker" or "local"
	Image   string   // Docker image name
	Cmd     []string // Command and arguments
	Workdir string   // Working directory path
	Env     map[string]string
	Network string // Network mode
	CPU     string // CPU limit
	Mem     string // Memory limit

	// Timeout bounds the wall-clock run time; zero means none.
	Timeout time.Duration
	// KillGrace is the delay between SIGTERM and SIGKILL on timeout.
	KillGrace time.Duration

	// Output, when set, receives stdout and stderr as they are produced.
	Output io.Writer
}

// Result represents the outcome of an execution step
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	Error    error
}

// Success reports whether the command exited zero in time.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + r.Stderr
}

// Runner executes steps. A non-zero exit or a timeout is reported in
// the Result; the error is reserved for failures to run at all.
type Runner interface {
	Run(ctx context.Context, step Step) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, step Step) (*Result, error)

// Run calls f(ctx, step).
func (f RunnerFunc) Run(ctx context.Context, step Step) (*Result, error) {
	return f(ctx, step)
}

// RunManifest represents the audit log for a step
type RunManifest struct {
	Timestamp    time.Time         `json:"timestamp"`
	RunID        string            `json:"run_id,omitempty"`
	Workflow     string            `json:"workflow,omitempty"`
	Job          string            `json:"job,omitempty"`
	StepID       string            `json:"step_id"`
	Runner       string            `json:"runner"`
	Image        string            `json:"image,omitempty"`
	ImageDigest  string            `json:"image_digest,omitempty"`
	Command      []string          `json:"command"`
	Env          map[string]string `json:"env,omitempty"`
	ExitCode     int               `json:"exit_code"`
	TimedOut     bool              `json:"timed_out,omitempty"`
	Duration     string            `json:"duration"`
	InputHashes  map[string]string `json:"input_hashes"`
	OutputHashes map[string]string `json:"output_hashes"`
}
