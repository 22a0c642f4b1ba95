package pipeline

import (
	"time"

	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// Status is the outcome of a job or step.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// StepResult records one step.
type StepResult struct {
	ID       string
	Name     string
	Status   Status
	ExitCode int
	Err      error
	Duration time.Duration
	// ContinuedOnError marks a failed step that did not fail the job.
	ContinuedOnError bool
}

// JobResult records one job instance.
type JobResult struct {
	Instance workflow.Instance
	Status   Status
	Steps    []StepResult
	Start    time.Time
	End      time.Time
	Err      error
}

// Duration returns the job's wall-clock time.
func (r *JobResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Passed reports whether the job succeeded.
func (r *JobResult) Passed() bool {
	return r.Status == StatusSuccess
}

// FailedSteps returns the failed steps that counted against the job.
func (r *JobResult) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusFailure && !s.ContinuedOnError {
			out = append(out, s)
		}
	}
	return out
}
