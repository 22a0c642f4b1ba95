package log

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Attribute keys shared by every component that logs pipeline activity.
const (
	KeyRunID    = "run_id"
	KeyWorkflow = "workflow"
	KeyJob      = "job"
	KeyStep     = "step"
)

// Logger provides structured logging with slog
type Logger struct {
	slog   *slog.Logger
	config Config
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level.ToSlogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(config.Output.Writer(), opts)
	default:
		handler = slog.NewJSONHandler(config.Output.Writer(), opts)
	}

	return &Logger{
		slog:   slog.New(handler).With("service", config.ServiceName),
		config: config,
	}
}

// Default creates a logger with default configuration
func Default() *Logger {
	return New(DefaultConfig())
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler), config: DefaultConfig()}
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
	}
}

// WithGroup returns a new Logger with a group name that prefixes all attributes
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		slog:   l.slog.WithGroup(name),
		config: l.config,
	}
}

// WithRun tags every entry with the run id and workflow name.
func (l *Logger) WithRun(runID, workflow string) *Logger {
	return l.With(KeyRunID, runID, KeyWorkflow, workflow)
}

// WithJob tags every entry with a job name (matrix instance name included).
func (l *Logger) WithJob(job string) *Logger {
	return l.With(KeyJob, job)
}

// WithStep tags every entry with a step name.
func (l *Logger) WithStep(step string) *Logger {
	return l.With(KeyStep, step)
}

// WithError adds error details to the logger.
// A GateError anywhere in the chain contributes its code and suggestions.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorArgs(err, false)...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// DebugContext logs a debug message with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// InfoContext logs an info message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// LogError logs an error with full details
func (l *Logger) LogError(err error) {
	l.LogErrorContext(context.Background(), err)
}

// LogErrorContext logs an error with full details and context
func (l *Logger) LogErrorContext(ctx context.Context, err error) {
	if err == nil {
		return
	}
	l.ErrorContext(ctx, "operation failed", errorArgs(err, true)...)
}

func errorArgs(err error, withDocs bool) []any {
	var gateErr *errors.GateError
	if !stderrors.As(err, &gateErr) {
		return []any{"error", err.Error()}
	}

	args := []any{
		"error", gateErr.Message,
		"error_code", string(gateErr.Code),
	}
	if len(gateErr.Suggestions) > 0 {
		args = append(args, "suggestions", gateErr.Suggestions)
	}
	if withDocs && gateErr.DocsURL != "" {
		args = append(args, "docs_url", gateErr.DocsURL)
	}
	if gateErr.Cause != nil {
		args = append(args, "cause", gateErr.Cause.Error())
	}
	return args
}

// Enabled returns whether the logger is enabled for the given level
func (l *Logger) Enabled(ctx context.Context, level Level) bool {
	return l.slog.Enabled(ctx, level.ToSlogLevel())
}

// Slog returns the underlying slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}
