// Package workflow models CI workflow definitions: triggers, jobs, matrix
// strategies and ordered steps. Workflows are plain YAML and a set of
// built-in workflows ships embedded in the binary.
package workflow

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Workflow is a named set of independent jobs fired by triggers.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env,omitempty"`
	Jobs map[string]*Job   `yaml:"jobs"`

	// Source is the file the workflow was loaded from, or "builtin".
	Source string `yaml:"-"`
}

// Triggers lists the events a workflow reacts to.
type Triggers struct {
	Push        *EventFilter `yaml:"push,omitempty"`
	PullRequest *EventFilter `yaml:"pull_request,omitempty"`
	Schedule    []CronSpec   `yaml:"schedule,omitempty"`
	Manual      bool         `yaml:"workflow_dispatch,omitempty"`
}

// EventFilter restricts push and pull request triggers to branches.
type EventFilter struct {
	Branches []string `yaml:"branches,omitempty"`
}

// CronSpec is a five-field cron expression evaluated in UTC.
type CronSpec struct {
	Cron string `yaml:"cron"`
}

// Job is a named unit of work. With a matrix it expands into one
// instance per parameter combination.
type Job struct {
	ID             string            `yaml:"-"`
	Name           string            `yaml:"name,omitempty"`
	RunsOn         string            `yaml:"runs-on,omitempty"`
	Strategy       Strategy          `yaml:"strategy,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	Steps          []Step            `yaml:"steps"`
	TimeoutMinutes int               `yaml:"timeout-minutes,omitempty"`
}

// Strategy controls how a job's matrix instances are scheduled.
type Strategy struct {
	FailFast    *bool  `yaml:"fail-fast,omitempty"`
	MaxParallel int    `yaml:"max-parallel,omitempty"`
	Matrix      Matrix `yaml:"matrix,omitempty"`
}

// IsFailFast reports whether the first failing instance cancels the
// others. Unset means true.
func (s Strategy) IsFailFast() bool {
	return s.FailFast == nil || *s.FailFast
}

// Matrix holds the axes of a job matrix plus include/exclude entries.
type Matrix struct {
	Axes    map[string][]string
	Include []map[string]string
	Exclude []map[string]string
}

// UnmarshalYAML decodes the mixed map form used in workflow files, where
// include and exclude sit next to the axis lists.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", value.Line)
	}

	m.Axes = map[string][]string{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		node := value.Content[i+1]

		switch key {
		case "include":
			if err := node.Decode(&m.Include); err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
		case "exclude":
			if err := node.Decode(&m.Exclude); err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
		default:
			var values []string
			if err := node.Decode(&values); err != nil {
				return fmt.Errorf("matrix axis %q: %w", key, err)
			}
			m.Axes[key] = values
		}
	}
	return nil
}

// MarshalYAML renders the matrix back into the mixed map form.
func (m Matrix) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{}
	for k, v := range m.Axes {
		out[k] = v
	}
	if len(m.Include) > 0 {
		out["include"] = m.Include
	}
	if len(m.Exclude) > 0 {
		out["exclude"] = m.Exclude
	}
	return out, nil
}

// IsZero reports whether the matrix declares nothing.
func (m Matrix) IsZero() bool {
	return len(m.Axes) == 0 && len(m.Include) == 0
}

// Keys returns the axis names in sorted order.
func (m Matrix) Keys() []string {
	keys := make([]string, 0, len(m.Axes))
	for k := range m.Axes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Step is one ordered action inside a job. Exactly one of Run or Uses
// is set.
type Step struct {
	ID               string            `yaml:"id,omitempty"`
	Name             string            `yaml:"name,omitempty"`
	Run              string            `yaml:"run,omitempty"`
	Uses             string            `yaml:"uses,omitempty"`
	With             map[string]string `yaml:"with,omitempty"`
	If               string            `yaml:"if,omitempty"`
	ContinueOnError  bool              `yaml:"continue-on-error,omitempty"`
	TimeoutMinutes   int               `yaml:"timeout-minutes,omitempty"`
	WorkingDirectory string            `yaml:"working-directory,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
}

// DisplayName returns the step name, falling back to its action or command.
func (s Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	case s.ID != "":
		return s.ID
	default:
		return "Run " + firstLine(s.Run)
	}
}

// Instance is one matrix instantiation of a job.
type Instance struct {
	Workflow string
	JobID    string
	Name     string
	Params   map[string]string
}

// Param returns a matrix parameter or "".
func (i Instance) Param(key string) string {
	return i.Params[key]
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
