package workflow

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Validate checks the structural rules of a workflow and reports every
// problem it finds in one error.
func (w *Workflow) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(w.Jobs) == 0 {
		add("workflow has no jobs")
	}
	if w.On.Push == nil && w.On.PullRequest == nil && len(w.On.Schedule) == 0 && !w.On.Manual {
		add("workflow has no triggers")
	}
	for _, s := range w.On.Schedule {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			add("invalid cron %q: %v", s.Cron, err)
		}
	}

	for _, id := range w.JobIDs() {
		job := w.Jobs[id]
		if len(job.Steps) == 0 {
			add("job %s has no steps", id)
		}
		if job.TimeoutMinutes < 0 {
			add("job %s: timeout-minutes must not be negative", id)
		}
		if job.Strategy.MaxParallel < 0 {
			add("job %s: max-parallel must not be negative", id)
		}
		for key, values := range job.Strategy.Matrix.Axes {
			if len(values) == 0 {
				add("job %s: matrix axis %s is empty", id, key)
			}
			if strings.HasSuffix(key, "-version") {
				for _, v := range values {
					if _, err := semver.NewVersion(v); err != nil {
						add("job %s: matrix %s value %q is not a version", id, key, v)
					}
				}
			}
		}

		stepIDs := map[string]bool{}
		for i, step := range job.Steps {
			where := fmt.Sprintf("job %s step %d (%s)", id, i+1, step.DisplayName())
			if (step.Run == "") == (step.Uses == "") {
				add("%s: exactly one of run or uses is required", where)
			}
			if _, err := ParseCondition(step.If); err != nil {
				add("%s: %v", where, err)
			}
			if step.TimeoutMinutes < 0 {
				add("%s: timeout-minutes must not be negative", where)
			}
			if step.ID != "" {
				if stepIDs[step.ID] {
					add("%s: duplicate step id %q", where, step.ID)
				}
				stepIDs[step.ID] = true
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewWorkflowInvalidError(w.Name, strings.Join(problems, "; "))
}

// ValidateAll validates every workflow and rejects duplicate names.
func ValidateAll(workflows []*Workflow) error {
	seen := map[string]string{}
	for _, wf := range workflows {
		if prev, ok := seen[wf.Name]; ok {
			return errors.NewWorkflowInvalidError(wf.Name,
				fmt.Sprintf("defined in both %s and %s", prev, wf.Source))
		}
		seen[wf.Name] = wf.Source
		if err := wf.Validate(); err != nil {
			return err
		}
	}
	return nil
}
