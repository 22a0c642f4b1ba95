// Package schedule fires workflows on their cron triggers. Specs are
// evaluated in UTC.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// Trigger starts one scheduled run of wf.
type Trigger func(ctx context.Context, wf *workflow.Workflow, ev workflow.Event)

// Entry is one cron trigger of one workflow.
type Entry struct {
	Workflow *workflow.Workflow
	Spec     string
	Schedule cron.Schedule
}

// Upcoming is the next firing of an entry.
type Upcoming struct {
	Workflow string
	Spec     string
	At       time.Time
}

// Scheduler runs workflows on their schedule triggers. A run still in
// progress when its next firing comes up is skipped, not queued.
type Scheduler struct {
	entries []Entry
	trigger Trigger
	logger  *log.Logger
}

// New collects the schedule triggers of workflows.
func New(workflows []*workflow.Workflow, trigger Trigger, logger *log.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if logger == nil {
		logger = log.Discard()
	}

	s := &Scheduler{trigger: trigger, logger: logger}
	for _, wf := range workflows {
		scheds, err := wf.Schedules()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeWorkflowInvalid, "invalid schedule", err)
		}
		for _, sc := range scheds {
			s.entries = append(s.entries, Entry{Workflow: wf, Spec: sc.Spec, Schedule: sc.Schedule})
		}
	}
	return s, nil
}

// Entries returns the collected triggers.
func (s *Scheduler) Entries() []Entry {
	return s.entries
}

// Next returns the next firing of every entry after now, soonest first.
func (s *Scheduler) Next(now time.Time) []Upcoming {
	now = now.UTC()
	out := make([]Upcoming, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Upcoming{Workflow: e.Workflow.Name, Spec: e.Spec, At: e.Schedule.Next(now)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Run fires triggers until ctx is cancelled, then waits for running
// workflows to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		return errors.New(errors.ErrCodeWorkflowNotFound, "no workflow has a schedule trigger").
			WithSuggestion("Add an on.schedule entry, e.g. cron: \"0 07 * * *\"")
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	for _, e := range s.entries {
		c.Schedule(e.Schedule, s.job(ctx, e, cl))
		s.logger.Info("scheduled workflow", log.KeyWorkflow, e.Workflow.Name, "cron", e.Spec,
			"next", e.Schedule.Next(time.Now().UTC()).Format(time.RFC3339))
	}

	c.Start()
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// job wraps one entry so overlapping firings of the same entry are
// skipped.
func (s *Scheduler) job(ctx context.Context, e Entry, cl cronLogger) cron.Job {
	ev := workflow.Event{Kind: workflow.EventSchedule, Cron: e.Spec}
	return cron.SkipIfStillRunning(cl)(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("schedule fired", log.KeyWorkflow, e.Workflow.Name, "cron", e.Spec)
		s.trigger(ctx, e.Workflow, ev)
	}))
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
