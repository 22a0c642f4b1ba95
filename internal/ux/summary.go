package ux

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/gate"
	"github.com/felixgeelhaar/cigate/internal/health"
	"github.com/felixgeelhaar/cigate/internal/history"
	"github.com/felixgeelhaar/cigate/internal/orchestrator"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/schedule"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// RunSummary renders an orchestrated run.
type RunSummary struct {
	Report *orchestrator.Report
}

// Render implements Renderable.
func (r RunSummary) Render(s *Styles) string {
	var b strings.Builder
	for _, wf := range r.Report.Workflows {
		fmt.Fprintf(&b, "%s %s %s\n", s.Title.Render(wf.Workflow), s.Status(string(wf.Status)),
			s.Muted.Render(fmt.Sprintf("(run %s, %s)", wf.RunID, round(wf.Duration()))))
		for _, j := range wf.Jobs {
			fmt.Fprintf(&b, "  %s %-40s %s\n", mark(s, j.Status), j.Instance.Name, s.Muted.Render(round(j.Duration())))
			for _, st := range j.FailedSteps() {
				fmt.Fprintf(&b, "      %s %s\n", s.Fail.Render("✗"), st.Name)
				if st.Err != nil {
					fmt.Fprintf(&b, "        %s\n", s.ErrText.Render(indent(firstParagraph(st.Err.Error()), "        ")))
				}
			}
		}
	}

	jobs := r.Report.Jobs()
	passed := 0
	for _, j := range jobs {
		if j.Passed() {
			passed++
		}
	}
	line := fmt.Sprintf("%d/%d jobs passed in %s", passed, len(jobs), round(r.Report.End.Sub(r.Report.Start)))
	if passed == len(jobs) {
		b.WriteString(s.Pass.Render(line))
	} else {
		b.WriteString(s.Fail.Render(line))
	}
	return b.String()
}

// Export implements Exporter.
func (r RunSummary) Export() interface{} {
	type job struct {
		Name     string            `json:"name" yaml:"name"`
		Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
		Status   string            `json:"status" yaml:"status"`
		Duration string            `json:"duration" yaml:"duration"`
		Error    string            `json:"error,omitempty" yaml:"error,omitempty"`
	}
	type wf struct {
		RunID    string `json:"run_id" yaml:"run_id"`
		Workflow string `json:"workflow" yaml:"workflow"`
		Status   string `json:"status" yaml:"status"`
		Jobs     []job  `json:"jobs" yaml:"jobs"`
	}
	out := []wf{}
	for _, w := range r.Report.Workflows {
		e := wf{RunID: w.RunID, Workflow: w.Workflow, Status: string(w.Status), Jobs: []job{}}
		for _, j := range w.Jobs {
			jj := job{Name: j.Instance.Name, Params: j.Instance.Params, Status: string(j.Status), Duration: round(j.Duration())}
			if j.Err != nil {
				jj.Error = j.Err.Error()
			}
			e.Jobs = append(e.Jobs, jj)
		}
		out = append(out, e)
	}
	return out
}

func mark(s *Styles, status pipeline.Status) string {
	switch status {
	case pipeline.StatusSuccess:
		return s.Pass.Render("✓")
	case pipeline.StatusFailure:
		return s.Fail.Render("✗")
	default:
		return s.Warn.Render("-")
	}
}

// GateSummary renders a static-analysis gate report.
type GateSummary struct {
	Report *gate.Report
	// MaxFindings limits the findings listed per check; zero lists all.
	MaxFindings int
}

// Render implements Renderable.
func (g GateSummary) Render(s *Styles) string {
	var b strings.Builder
	for _, c := range g.Report.Checks {
		status := "passed"
		if !c.Passed {
			status = "failed"
		}
		fmt.Fprintf(&b, "%s %s %s\n", s.Header.Render(c.Name), s.Status(status), s.Muted.Render(round(c.Duration)))
		if c.Message != "" && !c.Passed {
			fmt.Fprintf(&b, "  %s\n", c.Message)
		}
		for i, f := range c.Findings {
			if g.MaxFindings > 0 && i == g.MaxFindings {
				fmt.Fprintf(&b, "  %s\n", s.Muted.Render(fmt.Sprintf("... %d more", len(c.Findings)-i)))
				break
			}
			fmt.Fprintf(&b, "  %s\n", f.String())
		}
	}
	line := fmt.Sprintf("%d passed, %d failed", g.Report.TotalPassed, g.Report.TotalFailed)
	if g.Report.AllPassed {
		b.WriteString(s.Pass.Render(line))
	} else {
		b.WriteString(s.Fail.Render(line))
	}
	return b.String()
}

// Export implements Exporter.
func (g GateSummary) Export() interface{} {
	type check struct {
		Name     string             `json:"name" yaml:"name"`
		Passed   bool               `json:"passed" yaml:"passed"`
		Message  string             `json:"message,omitempty" yaml:"message,omitempty"`
		Findings []analysis.Finding `json:"findings,omitempty" yaml:"findings,omitempty"`
	}
	out := struct {
		Passed bool    `json:"passed" yaml:"passed"`
		Checks []check `json:"checks" yaml:"checks"`
	}{Passed: g.Report.AllPassed}
	for _, c := range g.Report.Checks {
		out.Checks = append(out.Checks, check{Name: c.Name, Passed: c.Passed, Message: c.Message, Findings: c.Findings})
	}
	return out
}

// HealthSummary renders doctor output.
type HealthSummary struct {
	Report *health.Report
}

// Render implements Renderable.
func (h HealthSummary) Render(s *Styles) string {
	var b strings.Builder
	b.WriteString(s.Title.Render("cigate doctor") + "\n")
	for _, r := range h.Report.Results {
		fmt.Fprintf(&b, "  %-16s %-10s %s\n", r.Name, s.Status(string(r.Status)), r.Message)
		if sug := r.Suggestion(); sug != "" && r.Status != health.StatusHealthy {
			fmt.Fprintf(&b, "  %-16s %s\n", "", s.Muted.Render(sug))
		}
	}
	b.WriteString("overall: " + s.Status(string(h.Report.Status)))
	return b.String()
}

// Export implements Exporter.
func (h HealthSummary) Export() interface{} {
	type check struct {
		Name    string                 `json:"name" yaml:"name"`
		Status  string                 `json:"status" yaml:"status"`
		Message string                 `json:"message" yaml:"message"`
		Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	}
	out := struct {
		Status string  `json:"status" yaml:"status"`
		Checks []check `json:"checks" yaml:"checks"`
	}{Status: string(h.Report.Status)}
	for _, r := range h.Report.Results {
		out.Checks = append(out.Checks, check{Name: r.Name, Status: string(r.Status), Message: r.Message, Details: r.Details})
	}
	return out
}

// HistoryTable renders recorded runs, newest first.
type HistoryTable struct {
	Runs []history.RunRecord
}

// Render implements Renderable.
func (h HistoryTable) Render(s *Styles) string {
	if len(h.Runs) == 0 {
		return s.Muted.Render("no runs recorded")
	}
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%-20s %-12s %-10s %-10s %s", "STARTED", "WORKFLOW", "EVENT", "STATUS", "DURATION")))
	for _, r := range h.Runs {
		fmt.Fprintf(&b, "\n%-20s %-12s %-10s %-10s %s", r.Start.UTC().Format("2006-01-02 15:04:05"),
			r.Workflow, r.Event, s.Status(r.Status), round(r.Duration()))
		for _, j := range r.Jobs {
			if j.Status == string(pipeline.StatusSuccess) {
				continue
			}
			fmt.Fprintf(&b, "\n  %s %s", j.Name, s.Status(j.Status))
		}
	}
	return b.String()
}

// Export implements Exporter.
func (h HistoryTable) Export() interface{} {
	return h.Runs
}

// WorkflowList renders the available workflows and their triggers.
type WorkflowList struct {
	Workflows []*workflow.Workflow
}

// Render implements Renderable.
func (w WorkflowList) Render(s *Styles) string {
	var b strings.Builder
	for i, wf := range w.Workflows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s\n", s.Title.Render(wf.Name), s.Muted.Render("("+wf.Source+")"))
		fmt.Fprintf(&b, "  on: %s\n", strings.Join(Triggers(wf), ", "))
		for _, id := range wf.JobIDs() {
			job := wf.Jobs[id]
			names := []string{}
			for _, inst := range job.Expand(wf.Name) {
				names = append(names, inst.Name)
			}
			fmt.Fprintf(&b, "  %s: %s", s.Header.Render(id), strings.Join(names, ", "))
			if !job.Strategy.Matrix.IsZero() {
				fmt.Fprintf(&b, " %s", s.Muted.Render(fmt.Sprintf("(fail-fast %t, max-parallel %d)",
					job.Strategy.IsFailFast(), job.Strategy.MaxParallel)))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Export implements Exporter.
func (w WorkflowList) Export() interface{} {
	return w.Workflows
}

// ScheduleList renders the next firing of every schedule trigger.
type ScheduleList struct {
	Upcoming []schedule.Upcoming
	Now      time.Time
}

// Render implements Renderable.
func (l ScheduleList) Render(s *Styles) string {
	if len(l.Upcoming) == 0 {
		return s.Muted.Render("no scheduled workflows")
	}
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%-20s %-12s %-14s %s", "NEXT (UTC)", "WORKFLOW", "CRON", "IN")))
	for _, u := range l.Upcoming {
		fmt.Fprintf(&b, "\n%-20s %-12s %-14s %s", u.At.UTC().Format("2006-01-02 15:04"), u.Workflow,
			u.Spec, s.Muted.Render(u.At.Sub(l.Now).Round(time.Minute).String()))
	}
	return b.String()
}

// Export implements Exporter.
func (l ScheduleList) Export() interface{} {
	type entry struct {
		Workflow string    `json:"workflow" yaml:"workflow"`
		Cron     string    `json:"cron" yaml:"cron"`
		Next     time.Time `json:"next" yaml:"next"`
	}
	out := []entry{}
	for _, u := range l.Upcoming {
		out = append(out, entry{Workflow: u.Workflow, Cron: u.Spec, Next: u.At.UTC()})
	}
	return out
}

// Triggers lists a workflow's triggers in a fixed order.
func Triggers(wf *workflow.Workflow) []string {
	var out []string
	if f := wf.On.Push; f != nil {
		out = append(out, withBranches("push", f.Branches))
	}
	if f := wf.On.PullRequest; f != nil {
		out = append(out, withBranches("pull_request", f.Branches))
	}
	for _, c := range wf.On.Schedule {
		out = append(out, fmt.Sprintf("schedule %q", c.Cron))
	}
	if wf.On.Manual {
		out = append(out, "workflow_dispatch")
	}
	return out
}

func withBranches(name string, branches []string) string {
	if len(branches) == 0 {
		return name
	}
	b := append([]string(nil), branches...)
	sort.Strings(b)
	return name + " [" + strings.Join(b, " ") + "]"
}

func round(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// firstParagraph drops the suggestion and docs sections of a gate error.
func firstParagraph(s string) string {
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(s, "\n", "\n"+prefix)
}
