package workflow

import (
	"fmt"
	"path"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EventKind names what fired a run.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// Event is a trigger occurrence. Branch is the pushed branch or the pull
// request base branch; Cron is the firing schedule for schedule events.
type Event struct {
	Kind   EventKind
	Branch string
	Cron   string
}

// ParseEventKind validates an event name given on the command line.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventPush, EventPullRequest, EventSchedule, EventManual:
		return k, nil
	}
	return "", fmt.Errorf("unknown event %q (want push, pull_request, schedule or manual)", s)
}

// UnmarshalYAML accepts the list form (on: [push, pull_request]) and the
// mapping form, where a key without a value still enables the trigger.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return t.enable(value.Value, nil)
	case yaml.SequenceNode:
		for _, n := range value.Content {
			if err := t.enable(n.Value, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := t.enable(value.Content[i].Value, value.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("line %d: unsupported trigger syntax", value.Line)
}

func (t *Triggers) enable(name string, node *yaml.Node) error {
	hasBody := node != nil && node.Tag != "!!null"

	switch name {
	case "push", "pull_request":
		filter := &EventFilter{}
		if hasBody {
			if err := node.Decode(filter); err != nil {
				return fmt.Errorf("trigger %s: %w", name, err)
			}
		}
		if name == "push" {
			t.Push = filter
		} else {
			t.PullRequest = filter
		}
	case "schedule":
		if !hasBody {
			return fmt.Errorf("trigger schedule needs at least one cron entry")
		}
		if err := node.Decode(&t.Schedule); err != nil {
			return fmt.Errorf("trigger schedule: %w", err)
		}
	case "workflow_dispatch":
		t.Manual = true
	default:
		return fmt.Errorf("unsupported trigger %q", name)
	}
	return nil
}

// Matches reports whether the workflow fires for ev. Manual events fire
// every workflow.
func (w *Workflow) Matches(ev Event) bool {
	switch ev.Kind {
	case EventPush:
		return w.On.Push.matches(ev.Branch)
	case EventPullRequest:
		return w.On.PullRequest.matches(ev.Branch)
	case EventSchedule:
		for _, s := range w.On.Schedule {
			if ev.Cron == "" || s.Cron == ev.Cron {
				return true
			}
		}
		return false
	case EventManual:
		return true
	}
	return false
}

func (f *EventFilter) matches(branch string) bool {
	if f == nil {
		return false
	}
	if len(f.Branches) == 0 || branch == "" {
		return true
	}
	for _, pattern := range f.Branches {
		if ok, _ := path.Match(pattern, branch); ok {
			return true
		}
	}
	return false
}

// Schedule is a parsed cron trigger.
type Schedule struct {
	Spec     string
	Schedule cron.Schedule
}

// Schedules parses the workflow's cron triggers with the standard
// five-field parser.
func (w *Workflow) Schedules() ([]Schedule, error) {
	out := make([]Schedule, 0, len(w.On.Schedule))
	for _, s := range w.On.Schedule {
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: cron %q: %w", w.Name, s.Cron, err)
		}
		out = append(out, Schedule{Spec: s.Cron, Schedule: sched})
	}
	return out, nil
}
