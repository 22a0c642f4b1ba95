// Package orchestrator runs workflows: it expands job matrices, bounds
// their parallelism, applies fail-fast, records history and fires hooks.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/history"
	"github.com/felixgeelhaar/cigate/internal/hooks"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// Provisioner hands out a private copy of a source tree for one job
// instance. release removes it.
type Provisioner interface {
	Provision(ctx context.Context, src, runID, instance string) (dir string, release func(), err error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, rec history.RunRecord) error
}

// Orchestrator runs workflows triggered by an event.
type Orchestrator struct {
	// Runner is the template every job instance copies.
	Runner *pipeline.Runner
	// Dispatcher, when set, becomes each instance's exec.Runner so
	// manifests land in a per-run, per-job directory.
	Dispatcher *pipeline.Dispatcher
	// WorkdirFor, when set and returning non-empty, overrides the
	// template's Workdir for a workflow. Instances sharing such a
	// directory run one at a time.
	WorkdirFor func(wf *workflow.Workflow) string
	// Workspaces, when set, gives every other instance its own copy of
	// the template's Workdir.
	Workspaces Provisioner
	Logger     *log.Logger
	History    Recorder
	Hooks      *hooks.Registry
	NewID      func() string

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// WorkflowResult is the outcome of one workflow run.
type WorkflowResult struct {
	RunID    string
	Workflow string
	Status   pipeline.Status
	Start    time.Time
	End      time.Time
	// Jobs are ordered by job id, then matrix order.
	Jobs []*pipeline.JobResult
}

// Duration returns the workflow's wall-clock time.
func (w WorkflowResult) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Report is the outcome of one orchestrated event.
type Report struct {
	Event     workflow.Event
	Start     time.Time
	End       time.Time
	Workflows []WorkflowResult
}

// Jobs returns every job result across workflows.
func (r *Report) Jobs() []*pipeline.JobResult {
	var out []*pipeline.JobResult
	for _, w := range r.Workflows {
		out = append(out, w.Jobs...)
	}
	return out
}

// Passed reports whether every job succeeded.
func (r *Report) Passed() bool {
	for _, j := range r.Jobs() {
		if !j.Passed() {
			return false
		}
	}
	return true
}

// Err summarizes a failed report. Policy and configuration errors keep
// their own code so the exit status reflects them; any other failure is
// WORKFLOW-004. A report with only cancelled jobs returns
// context.Canceled.
func (r *Report) Err() error {
	var failed []*pipeline.JobResult
	cancelled := false
	for _, j := range r.Jobs() {
		switch j.Status {
		case pipeline.StatusFailure:
			failed = append(failed, j)
		case pipeline.StatusCancelled:
			cancelled = true
		}
	}

	if len(failed) == 0 {
		if cancelled {
			return context.Canceled
		}
		return nil
	}

	first := failed[0]
	code := errors.ErrCodeJobFailed
	switch c := errors.Code(first.Err); c {
	case errors.ErrCodeExecPolicyViolation, errors.ErrCodeActionUnknown, errors.ErrCodeWorkflowInvalid:
		code = c
	}

	msg := fmt.Sprintf("%d job(s) failed, first: %s", len(failed), first.Instance.Name)
	return errors.Wrap(code, msg, first.Err)
}

// Run runs every workflow matching ev concurrently. It returns an error
// only when nothing matched; job failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, workflows []*workflow.Workflow, ev workflow.Event) (*Report, error) {
	var selected []*workflow.Workflow
	for _, wf := range workflows {
		if wf.Matches(ev) {
			selected = append(selected, wf)
		}
	}
	if len(selected) == 0 {
		return nil, errors.New(errors.ErrCodeWorkflowNotFound,
			fmt.Sprintf("no workflow is triggered by %s", describe(ev))).
			WithSuggestion("Run 'cigate workflows' to see each workflow's triggers")
	}

	report := &Report{Event: ev, Start: time.Now(), Workflows: make([]WorkflowResult, len(selected))}

	var g errgroup.Group
	for i, wf := range selected {
		g.Go(func() error {
			report.Workflows[i] = o.RunWorkflow(ctx, wf, ev)
			return nil
		})
	}
	_ = g.Wait()

	report.End = time.Now()
	return report, nil
}

// RunWorkflow runs every job of wf concurrently.
func (o *Orchestrator) RunWorkflow(ctx context.Context, wf *workflow.Workflow, ev workflow.Event) WorkflowResult {
	runID := o.newID()
	logger := o.logger().WithRun(runID, wf.Name)
	res := WorkflowResult{RunID: runID, Workflow: wf.Name, Start: time.Now()}

	// Notifications still go out when the run is interrupted.
	notifyCtx := context.WithoutCancel(ctx)
	o.Hooks.Trigger(notifyCtx, hooks.NewEvent(hooks.EventRunStarted, runID, wf.Name))
	logger.Info("workflow started", "event", string(ev.Kind), "jobs", len(wf.Jobs))

	out := &lockedWriter{w: o.out()}
	jobIDs := wf.JobIDs()
	perJob := make([][]*pipeline.JobResult, len(jobIDs))

	var g errgroup.Group
	for i, id := range jobIDs {
		g.Go(func() error {
			perJob[i] = o.runMatrix(ctx, wf, wf.Jobs[id], runID, out, logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, jobs := range perJob {
		res.Jobs = append(res.Jobs, jobs...)
	}
	res.End = time.Now()
	res.Status = workflowStatus(res.Jobs)

	logger.Info("workflow finished", "status", res.Status, "duration", res.Duration().Round(time.Millisecond))
	o.record(notifyCtx, res, ev, logger)
	o.notifyFinished(notifyCtx, res)
	return res
}

// runMatrix runs the instances of one job, at most MaxParallel at a time.
// With fail-fast, the first failure cancels the remaining instances;
// instances that never started are reported as cancelled.
func (o *Orchestrator) runMatrix(ctx context.Context, wf *workflow.Workflow, job *workflow.Job,
	runID string, out io.Writer, logger *log.Logger) []*pipeline.JobResult {
	instances := job.Expand(wf.Name)
	results := make([]*pipeline.JobResult, len(instances))

	matrixCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	failFast := job.Strategy.IsFailFast()

	var g errgroup.Group
	if job.Strategy.MaxParallel > 0 {
		g.SetLimit(job.Strategy.MaxParallel)
	}

	for i, inst := range instances {
		g.Go(func() error {
			if matrixCtx.Err() != nil {
				results[i] = notStarted(inst, matrixCtx.Err())
				return nil
			}

			runner, release, err := o.instanceRunner(matrixCtx, runID, wf, inst, out, logger)
			var jr *pipeline.JobResult
			switch {
			case err != nil && matrixCtx.Err() != nil:
				jr = notStarted(inst, matrixCtx.Err())
			case err != nil:
				logger.Error("failed to prepare workspace", log.KeyJob, inst.Name, "error", err)
				jr = notStarted(inst, err)
				jr.Status = pipeline.StatusFailure
			default:
				jr = runner.RunJob(matrixCtx, wf, inst)
				release()
			}
			results[i] = jr

			if jr.Status == pipeline.StatusFailure && failFast {
				logger.Warn("fail-fast: cancelling remaining instances", log.KeyJob, inst.Name)
				cancel()
			}
			o.notifyJob(context.WithoutCancel(ctx), runID, jr)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// instanceRunner copies the template for one instance and places it in
// its working directory: the workflow's dedicated directory, held
// exclusively until release, or a fresh workspace.
func (o *Orchestrator) instanceRunner(ctx context.Context, runID string, wf *workflow.Workflow, inst workflow.Instance,
	out io.Writer, logger *log.Logger) (*pipeline.Runner, func(), error) {
	r := *o.Runner
	release := func() {}

	dedicated := ""
	if o.WorkdirFor != nil {
		dedicated = o.WorkdirFor(wf)
	}
	switch {
	case dedicated != "":
		unlock, err := o.lock(ctx, dedicated)
		if err != nil {
			return nil, nil, err
		}
		r.Workdir = dedicated
		release = unlock
	case o.Workspaces != nil:
		dir, cleanup, err := o.Workspaces.Provision(ctx, o.Runner.Workdir, runID, inst.Name)
		if err != nil {
			return nil, nil, err
		}
		r.Workdir = dir
		release = cleanup
	}

	if o.Dispatcher != nil {
		r.Exec = o.Dispatcher.ForJob(runID, wf.Name, inst.Name)
	}
	r.Logger = logger
	r.Out = out

	env := make(map[string]string, len(o.Runner.Env)+3)
	for k, v := range o.Runner.Env {
		env[k] = v
	}
	env["CI"] = "true"
	env["CIGATE_RUN_ID"] = runID
	env["CIGATE_WORKFLOW"] = wf.Name
	r.Env = env
	return &r, release, nil
}

// lock takes the per-directory lock for dir, waiting until it is free
// or ctx is done.
func (o *Orchestrator) lock(ctx context.Context, dir string) (func(), error) {
	o.mu.Lock()
	if o.locks == nil {
		o.locks = map[string]chan struct{}{}
	}
	ch, ok := o.locks[dir]
	if !ok {
		ch = make(chan struct{}, 1)
		o.locks[dir] = ch
	}
	o.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func notStarted(inst workflow.Instance, err error) *pipeline.JobResult {
	now := time.Now()
	return &pipeline.JobResult{
		Instance: inst,
		Status:   pipeline.StatusCancelled,
		Start:    now,
		End:      now,
		Err:      err,
	}
}

func workflowStatus(jobs []*pipeline.JobResult) pipeline.Status {
	status := pipeline.StatusSuccess
	for _, j := range jobs {
		switch j.Status {
		case pipeline.StatusFailure:
			return pipeline.StatusFailure
		case pipeline.StatusCancelled:
			status = pipeline.StatusCancelled
		}
	}
	return status
}

func (o *Orchestrator) record(ctx context.Context, res WorkflowResult, ev workflow.Event, logger *log.Logger) {
	if o.History == nil {
		return
	}
	rec := history.RunRecord{
		ID:       res.RunID,
		Workflow: res.Workflow,
		Event:    string(ev.Kind),
		Status:   string(res.Status),
		Start:    res.Start,
		End:      res.End,
	}
	for _, j := range res.Jobs {
		jr := history.JobRecord{Name: j.Instance.Name, Status: string(j.Status), Duration: j.Duration()}
		if j.Err != nil {
			jr.Error = j.Err.Error()
		}
		rec.Jobs = append(rec.Jobs, jr)
	}
	if err := o.History.Record(ctx, rec); err != nil {
		logger.Warn("failed to record run history", "error", err)
	}
}

func (o *Orchestrator) notifyJob(ctx context.Context, runID string, jr *pipeline.JobResult) {
	ev := hooks.NewEvent(hooks.EventJobCompleted, runID, jr.Instance.Workflow)
	ev.Job = jr.Instance.Name
	ev.Status = string(jr.Status)
	ev.Duration = jr.Duration()
	if jr.Err != nil {
		ev.Error = jr.Err.Error()
	}
	o.Hooks.Trigger(ctx, ev)
}

func (o *Orchestrator) notifyFinished(ctx context.Context, res WorkflowResult) {
	typ := hooks.EventRunCompleted
	if res.Status != pipeline.StatusSuccess {
		typ = hooks.EventRunFailed
	}
	ev := hooks.NewEvent(typ, res.RunID, res.Workflow)
	ev.Status = string(res.Status)
	ev.Duration = res.Duration()

	var failed []string
	for _, j := range res.Jobs {
		if !j.Passed() {
			failed = append(failed, fmt.Sprintf("%s: %s", j.Instance.Name, j.Status))
		}
	}
	sort.Strings(failed)
	for _, f := range failed {
		if ev.Error != "" {
			ev.Error += "\n"
		}
		ev.Error += f
	}
	o.Hooks.Trigger(ctx, ev)
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Discard()
}

func (o *Orchestrator) out() io.Writer {
	if o.Runner != nil && o.Runner.Out != nil {
		return o.Runner.Out
	}
	return os.Stdout
}

func describe(ev workflow.Event) string {
	switch {
	case ev.Branch != "":
		return fmt.Sprintf("%s on %s", ev.Kind, ev.Branch)
	case ev.Cron != "":
		return fmt.Sprintf("%s %q", ev.Kind, ev.Cron)
	}
	return string(ev.Kind)
}

// lockedWriter serializes step output from concurrent instances.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
