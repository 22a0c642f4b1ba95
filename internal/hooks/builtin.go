package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/exec"
)

type base struct {
	name   string
	events []EventType
}

func (b base) Name() string            { return b.name }
func (b base) EventTypes() []EventType { return b.events }

// ScriptHook runs a local command with the event in its environment.
type ScriptHook struct {
	base
	script string
	args   []string
	runner exec.Runner
}

// NewScriptHook creates a new script hook
func NewScriptHook(cfg Config) (Hook, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("script path required")
	}
	return &ScriptHook{
		base:   base{name: cfg.Name, events: cfg.Events},
		script: cfg.Script,
		args:   cfg.Args,
		runner: exec.NewLocalRunner(),
	}, nil
}

// Env returns the CIGATE_EVENT_* variables describing event.
func Env(event *Event) map[string]string {
	return map[string]string{
		"CIGATE_EVENT_TYPE":     string(event.Type),
		"CIGATE_EVENT_RUN_ID":   event.RunID,
		"CIGATE_EVENT_WORKFLOW": event.Workflow,
		"CIGATE_EVENT_JOB":      event.Job,
		"CIGATE_EVENT_STATUS":   event.Status,
		"CIGATE_EVENT_ERROR":    event.Error,
	}
}

func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	res, err := h.runner.Run(ctx, exec.Step{
		ID:  "hook-" + h.name,
		Cmd: append([]string{h.script}, h.args...),
		Env: Env(event),
	})
	if err != nil {
		return fmt.Errorf("script failed: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("script exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// WebhookHook posts the event as JSON.
type WebhookHook struct {
	base
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookHook creates a new webhook hook
func NewWebhookHook(cfg Config) (Hook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	return &WebhookHook{
		base:    base{name: cfg.Name, events: cfg.Events},
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return post(ctx, h.client, h.url, payload, h.headers)
}

// SlackHook posts a one-line summary to a Slack incoming webhook.
type SlackHook struct {
	base
	url     string
	channel string
	client  *http.Client
}

// NewSlackHook creates a new Slack hook
func NewSlackHook(cfg Config) (Hook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("Slack webhook URL required")
	}
	return &SlackHook{
		base:    base{name: cfg.Name, events: cfg.Events},
		url:     cfg.URL,
		channel: cfg.Channel,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (h *SlackHook) Execute(ctx context.Context, event *Event) error {
	payload := map[string]string{
		"text":     FormatMessage(event),
		"username": "cigate",
	}
	if h.channel != "" {
		payload["channel"] = h.channel
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	return post(ctx, h.client, h.url, data, nil)
}

// FormatMessage renders an event as a chat message.
func FormatMessage(event *Event) string {
	switch event.Type {
	case EventRunStarted:
		return fmt.Sprintf("Run %s started: %s", event.RunID, event.Workflow)
	case EventJobCompleted:
		msg := fmt.Sprintf("%s / %s: %s in %s", event.Workflow, event.Job, event.Status, event.Duration)
		if event.Error != "" {
			msg += "\n" + event.Error
		}
		return msg
	case EventRunCompleted:
		return fmt.Sprintf("%s passed (run %s, %s)", event.Workflow, event.RunID, event.Duration)
	case EventRunFailed:
		return fmt.Sprintf("%s FAILED (run %s)\n%s", event.Workflow, event.RunID, event.Error)
	default:
		return fmt.Sprintf("%s: %s", event.Type, event.Workflow)
	}
}

func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return nil
}
