package hooks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Executor fans an event out to hooks. A failing, slow or panicking hook
// never affects the run that emitted the event.
type Executor struct {
	MaxConcurrency int
	Timeout        time.Duration
}

// NewExecutor returns an executor running up to four hooks at once.
func NewExecutor() *Executor {
	return &Executor{MaxConcurrency: 4, Timeout: DefaultTimeout}
}

// ExecuteAll delivers event to every hook. Results are in hook order.
func (e *Executor) ExecuteAll(ctx context.Context, hooks []Hook, event *Event) []ExecutionResult {
	if len(hooks) == 0 {
		return nil
	}

	results := make([]ExecutionResult, len(hooks))
	g := new(errgroup.Group)
	g.SetLimit(max(e.MaxConcurrency, 1))
	for i, h := range hooks {
		g.Go(func() error {
			results[i] = e.Execute(ctx, h, event)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute delivers event to one hook under the executor timeout.
func (e *Executor) Execute(ctx context.Context, hook Hook, event *Event) (res ExecutionResult) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res = ExecutionResult{HookName: hook.Name(), EventType: event.Type}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Error = fmt.Sprintf("hook panicked: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	if err := hook.Execute(hookCtx, event); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
