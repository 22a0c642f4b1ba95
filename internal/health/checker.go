// Package health checks the tools a gate run depends on: the Docker
// daemon, the repository, the Python interpreters of the matrix and the
// Python tooling the gates invoke. 'cigate doctor' reports the results.
//
//	manager := health.NewManager()
//	manager.AddChecker(health.NewDockerChecker(runner, false))
//	manager.AddChecker(health.NewRepoChecker("."))
//
//	report := manager.Check(ctx)
//	for _, r := range report.Results {
//	    log.Info("health check", "name", r.Name, "status", r.Status)
//	}
package health

import (
	"context"
	"time"
)

// Checker probes one dependency of the workflows.
type Checker interface {
	// Name is lowercase with hyphens, e.g. "docker", "python-3.8".
	Name() string

	// Check must respect the context deadline set by the Manager.
	Check(ctx context.Context) *Result
}

// Status represents the health check status.
type Status string

const (
	// StatusHealthy indicates the checked component is fully operational.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates the component works but something needs
	// attention, e.g. an interpreter reporting an unexpected version.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates a gate depending on the component will fail.
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and other. Unknown statuses count as
// unhealthy.
func (s Status) Worse(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// Detail keys shared by the checkers and the doctor output.
const (
	DetailError      = "error"
	DetailSuggestion = "suggestion"
	DetailVersion    = "version"
)

// Result represents the result of a health check.
type Result struct {
	Status  Status
	Message string

	// Details holds structured extras: versions, paths, suggestions.
	Details map[string]interface{}

	Latency time.Duration
}

// NewResult creates a new health check result with the given status and message.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the result and returns the result for chaining.
func (r *Result) WithDetail(key string, value interface{}) *Result {
	r.Details[key] = value
	return r
}

// WithError records err's text; nil is ignored.
func (r *Result) WithError(err error) *Result {
	if err != nil {
		r.Details[DetailError] = err.Error()
	}
	return r
}

// WithSuggestion records what the user can do to fix the component.
func (r *Result) WithSuggestion(s string) *Result {
	r.Details[DetailSuggestion] = s
	return r
}

// Suggestion returns the recorded suggestion, if any.
func (r *Result) Suggestion() string {
	s, _ := r.Details[DetailSuggestion].(string)
	return s
}

// WithLatency sets the latency and returns the result for chaining.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

// Healthy creates a healthy result with the given message.
func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

// Degraded creates a degraded result with the given message.
func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

// Unhealthy creates an unhealthy result with the given message.
func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}
