// Package pipeline executes the ordered steps of one job instance. Steps
// name a registered action with uses: or carry a shell script in run:.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/exec"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

// Action is a named step implementation referenced by uses:.
type Action interface {
	Name() string
	Run(ctx context.Context, sc *StepContext) error
}

type funcAction struct {
	name string
	fn   func(ctx context.Context, sc *StepContext) error
}

func (a funcAction) Name() string { return a.name }

func (a funcAction) Run(ctx context.Context, sc *StepContext) error { return a.fn(ctx, sc) }

// Func adapts a function to the Action interface.
func Func(name string, fn func(ctx context.Context, sc *StepContext) error) Action {
	return funcAction{name: name, fn: fn}
}

// Registry maps action names to actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds actions. Names must be unique.
func (r *Registry) Register(actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range actions {
		if _, exists := r.actions[a.Name()]; exists {
			return fmt.Errorf("action %q already registered", a.Name())
		}
		r.actions[a.Name()] = a
	}
	return nil
}

// Get looks up an action.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeActionUnknown, fmt.Sprintf("unknown action %q", name)).
			WithSuggestion("Run 'cigate workflows --actions' to list available actions")
	}
	return a, nil
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State carries values between the steps of one job instance, keyed by
// step id.
type State struct {
	mu     sync.Mutex
	values map[string]any
}

// NewState creates an empty State.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Set stores a value.
func (s *State) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Get returns a stored value.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// StepContext is what an action sees of its job and step. Step has its
// placeholders already interpolated.
type StepContext struct {
	Job     workflow.Instance
	Step    workflow.Step
	Workdir string
	Env     map[string]string
	Runner  exec.Runner
	Logger  *log.Logger
	Out     io.Writer
	State   *State

	exitCode int
}

// Input returns a with: value or def when unset.
func (sc *StepContext) Input(key, def string) string {
	if v, ok := sc.Step.With[key]; ok && v != "" {
		return v
	}
	return def
}

// BoolInput parses a with: value as a boolean; unset or empty gives def.
func (sc *StepContext) BoolInput(key string, def bool) (bool, error) {
	v := sc.Input(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(errors.ErrCodeWorkflowInvalid,
			fmt.Sprintf("step %q: input %s=%q is not a boolean", sc.Step.DisplayName(), key, v))
	}
	return b, nil
}

// Path resolves p relative to the step's working directory.
func (sc *StepContext) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(sc.Workdir, p)
}

// StepID identifies the step in logs and manifests.
func (sc *StepContext) StepID() string {
	if sc.Step.ID != "" {
		return sc.Step.ID
	}
	return sc.Step.DisplayName()
}

// Exec runs cmd in the step's working directory and environment, streaming
// output to Out. The exit code is recorded on the step result.
func (sc *StepContext) Exec(ctx context.Context, name string, cmd []string) (*exec.Result, error) {
	res, err := sc.Runner.Run(ctx, exec.Step{
		ID:      sc.StepID() + "-" + name,
		Cmd:     cmd,
		Workdir: sc.Workdir,
		Env:     sc.Env,
		Output:  sc.Out,
	})
	if res != nil {
		sc.exitCode = res.ExitCode
	}
	return res, err
}

// SetExitCode records the exit code reported on the step result.
func (sc *StepContext) SetExitCode(code int) {
	sc.exitCode = code
}
