package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/cigate/internal/log"
)

// Registry manages hooks and their lifecycle
type Registry struct {
	mu        sync.RWMutex
	hooks     map[EventType][]Hook
	factories map[string]Factory
	executor  *Executor
	logger    *log.Logger
}

// NewRegistry creates a registry with the built-in hook types.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Discard()
	}
	r := &Registry{
		hooks:     make(map[EventType][]Hook),
		factories: make(map[string]Factory),
		executor:  NewExecutor(),
		logger:    logger,
	}
	r.RegisterFactory("script", NewScriptHook)
	r.RegisterFactory("webhook", NewWebhookHook)
	r.RegisterFactory("slack", NewSlackHook)
	return r
}

// FromConfig builds a registry holding every enabled configured hook.
func FromConfig(cfgs []Config, logger *log.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, c := range cfgs {
		if err := r.RegisterFromConfig(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterFactory registers a hook factory
func (r *Registry) RegisterFactory(hookType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register adds a hook for each of its event types.
func (r *Registry) Register(hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, eventType := range hook.EventTypes() {
		if !IsValidEvent(eventType) {
			return fmt.Errorf("hook %s: unknown event %q", hook.Name(), eventType)
		}
		r.hooks[eventType] = append(r.hooks[eventType], hook)
	}
	return nil
}

// RegisterFromConfig creates and registers a hook; disabled hooks are
// skipped.
func (r *Registry) RegisterFromConfig(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown hook type: %s", cfg.Type)
	}

	hook, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", cfg.Name, err)
	}
	return r.Register(hook)
}

// Trigger executes all hooks registered for the event's type. Hook
// failures are logged and never fail the run.
func (r *Registry) Trigger(ctx context.Context, event *Event) []ExecutionResult {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	hooks := r.hooks[event.Type]
	r.mu.RUnlock()

	results := r.executor.ExecuteAll(ctx, hooks, event)
	for _, res := range results {
		if !res.Success {
			r.logger.Warn("hook failed", "hook", res.HookName, "event", string(res.EventType), "error", res.Error)
		}
	}
	return results
}

// Count returns the number of distinct registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, hooks := range r.hooks {
		for _, hook := range hooks {
			seen[hook.Name()] = true
		}
	}
	return len(seen)
}
