package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// Shell is the interpreter for run: steps. -e stops at the first failing
// command.
var Shell = []string{"/bin/sh", "-e", "-c"}

// Runner executes job instances.
type Runner struct {
	Registry *Registry
	Exec     exec.Runner
	// Workdir is the repository root steps run in.
	Workdir string
	// Env is the base environment of every step.
	Env    map[string]string
	Logger *log.Logger
	Out    io.Writer
}

// RunJob runs the steps of inst in declared order. A failing step skips the
// remaining steps unless they are marked always() or failure(), or the
// failing step has continue-on-error. Cancelling ctx or exceeding the job
// timeout skips every step except always() ones.
func (r *Runner) RunJob(ctx context.Context, wf *workflow.Workflow, inst workflow.Instance) *JobResult {
	result := &JobResult{Instance: inst, Start: time.Now()}
	logger := r.logger().WithJob(inst.Name)

	job, ok := wf.Jobs[inst.JobID]
	if !ok {
		result.Status = StatusFailure
		result.Err = errors.New(errors.ErrCodeWorkflowNotFound,
			fmt.Sprintf("workflow %q has no job %q", wf.Name, inst.JobID))
		result.End = time.Now()
		return result
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if job.TimeoutMinutes > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	env := jobEnv(wf, job, inst)
	state := NewState()
	failed := false

	logger.Info("job started", "steps", len(job.Steps))

	for _, raw := range job.Steps {
		step := interpolateStep(raw, inst.Params, env)
		cancelled := jobCtx.Err() != nil

		cond, err := workflow.ParseCondition(step.If)
		if err != nil {
			sr := StepResult{ID: step.ID, Name: step.DisplayName(), Status: StatusFailure,
				Err: errors.Wrap(errors.ErrCodeWorkflowInvalid, "invalid step condition", err)}
			result.Steps = append(result.Steps, sr)
			failed = true
			result.recordErr(sr.Err)
			continue
		}

		if !cond.Eval(failed, cancelled, inst.Params) {
			logger.Debug("step skipped", log.KeyStep, step.DisplayName(), "if", step.If)
			result.Steps = append(result.Steps, StepResult{ID: step.ID, Name: step.DisplayName(), Status: StatusSkipped})
			continue
		}

		stepCtx := jobCtx
		if cancelled {
			// always() steps still get to run after cancellation.
			stepCtx = context.WithoutCancel(jobCtx)
		}

		sr := r.runStep(stepCtx, ctx, step, inst, env, state, logger)
		if sr.Status == StatusFailure {
			if step.ContinueOnError {
				sr.ContinuedOnError = true
				logger.Warn("step failed, continuing", log.KeyStep, sr.Name, "error", sr.Err)
			} else {
				failed = true
				result.recordErr(sr.Err)
			}
		}
		result.Steps = append(result.Steps, sr)
	}

	result.End = time.Now()
	switch {
	case failed:
		result.Status = StatusFailure
	case ctx.Err() != nil:
		result.Status = StatusCancelled
		result.Err = ctx.Err()
	case jobCtx.Err() != nil:
		result.Status = StatusFailure
		result.Err = errors.New(errors.ErrCodeExecTimeout,
			fmt.Sprintf("job %s exceeded timeout-minutes %d", inst.Name, job.TimeoutMinutes))
	default:
		result.Status = StatusSuccess
	}

	logger.Info("job finished", "status", result.Status, "duration", result.Duration().Round(time.Millisecond))
	return result
}

func (r *JobResult) recordErr(err error) {
	if r.Err == nil && err != nil {
		r.Err = err
	}
}

func (r *Runner) runStep(ctx, parent context.Context, step workflow.Step, inst workflow.Instance,
	env map[string]string, state *State, logger *log.Logger) StepResult {
	name := step.DisplayName()
	sr := StepResult{ID: step.ID, Name: name}

	if step.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	stepEnv := mergeEnv(r.Env, env, interpolateMap(step.Env, inst.Params, env))
	sc := &StepContext{
		Job:     inst,
		Step:    step,
		Workdir: r.stepDir(step),
		Env:     stepEnv,
		Runner:  r.Exec,
		Logger:  logger.WithStep(name),
		Out:     r.out(),
		State:   state,
	}

	fmt.Fprintf(sc.Out, "==> %s: %s\n", inst.Name, name)
	start := time.Now()
	err := r.execute(ctx, sc)
	sr.Duration = time.Since(start)
	sr.ExitCode = sc.exitCode

	switch {
	case err == nil:
		sr.Status = StatusSuccess
		sc.Logger.Info("step succeeded", "duration", sr.Duration.Round(time.Millisecond))
	case parent.Err() != nil && stderrors.Is(err, context.Canceled):
		sr.Status = StatusCancelled
		sr.Err = err
		sc.Logger.Warn("step cancelled")
	default:
		sr.Status = StatusFailure
		sr.Err = err
		if ctx.Err() == context.DeadlineExceeded && !errors.HasCode(err, errors.ErrCodeExecTimeout) {
			sr.Err = errors.Wrap(errors.ErrCodeExecTimeout, fmt.Sprintf("step %q timed out", name), err)
		}
		sc.Logger.WithError(sr.Err).Error("step failed")
	}
	return sr
}

func (r *Runner) execute(ctx context.Context, sc *StepContext) error {
	if sc.Step.Run != "" {
		return runShell(ctx, sc)
	}
	action, err := r.Registry.Get(sc.Step.Uses)
	if err != nil {
		return err
	}
	return action.Run(ctx, sc)
}

func runShell(ctx context.Context, sc *StepContext) error {
	res, err := sc.Exec(ctx, "run", append(append([]string{}, Shell...), sc.Step.Run))
	if err != nil {
		return err
	}
	return ResultErr(res, sc.Step.DisplayName())
}

// ResultErr converts a failed command result into an error: the timeout
// error for a timed-out command, EXEC-005 for a non-zero exit.
func ResultErr(res *exec.Result, what string) error {
	switch {
	case res.TimedOut:
		return res.Error
	case res.ExitCode != 0:
		return errors.New(errors.ErrCodeExecNonZeroExit,
			fmt.Sprintf("%s exited with code %d", what, res.ExitCode))
	}
	return nil
}

func (r *Runner) stepDir(step workflow.Step) string {
	dir := r.Workdir
	if step.WorkingDirectory != "" {
		if filepath.IsAbs(step.WorkingDirectory) {
			return step.WorkingDirectory
		}
		dir = filepath.Join(dir, step.WorkingDirectory)
	}
	return dir
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Discard()
}

func (r *Runner) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return io.Discard
}

// jobEnv merges workflow and job env, interpolating matrix parameters.
// Job values win.
func jobEnv(wf *workflow.Workflow, job *workflow.Job, inst workflow.Instance) map[string]string {
	env := interpolateMap(wf.Env, inst.Params, nil)
	for k, v := range interpolateMap(job.Env, inst.Params, env) {
		env[k] = v
	}
	return env
}

func interpolateStep(step workflow.Step, params, env map[string]string) workflow.Step {
	step.Name = workflow.Interpolate(step.Name, params, env)
	step.Run = workflow.Interpolate(step.Run, params, env)
	step.WorkingDirectory = workflow.Interpolate(step.WorkingDirectory, params, env)
	step.With = interpolateMap(step.With, params, env)
	return step
}

func interpolateMap(m, params, env map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = workflow.Interpolate(v, params, env)
	}
	return out
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
