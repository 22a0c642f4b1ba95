// Package hooks notifies external systems about run lifecycle events:
// scripts, generic webhooks and Slack.
package hooks

import (
	"context"
	"time"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventJobCompleted EventType = "job.completed"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
)

// Event represents a lifecycle event that can trigger hooks
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	// Job is set for job events.
	Job string `json:"job,omitempty"`
	// Status is the job or run status for completion events.
	Status   string        `json:"status,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, runID, workflow string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Workflow:  workflow,
	}
}

// Hook is the interface that all hooks must implement
type Hook interface {
	Name() string
	EventTypes() []EventType
	Execute(ctx context.Context, event *Event) error
}

// Config configures one hook under hooks: in .cigate/config.yaml.
type Config struct {
	Name string `yaml:"name"`
	// Type is script, webhook or slack.
	Type    string      `yaml:"type"`
	Events  []EventType `yaml:"events"`
	Enabled bool        `yaml:"enabled"`

	// Script and Args run a local command (script hooks).
	Script string   `yaml:"script,omitempty"`
	Args   []string `yaml:"args,omitempty"`
	// URL receives the POST (webhook and slack hooks).
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Channel string            `yaml:"channel,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ExecutionResult contains the result of hook execution
type ExecutionResult struct {
	HookName  string
	EventType EventType
	Success   bool
	Error     string
	Duration  time.Duration
}

// Factory creates a hook from configuration
type Factory func(cfg Config) (Hook, error)

// DefaultTimeout is the default hook execution timeout
const DefaultTimeout = 30 * time.Second

// AllEvents lists every event type.
var AllEvents = []EventType{EventRunStarted, EventJobCompleted, EventRunCompleted, EventRunFailed}

// IsValidEvent reports whether t is a known event type.
func IsValidEvent(t EventType) bool {
	for _, e := range AllEvents {
		if e == t {
			return true
		}
	}
	return false
}
