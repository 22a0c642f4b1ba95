package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

func newJSONLogger(buf *bytes.Buffer, level Level) *Logger {
	return New(Config{
		Level:       level,
		Format:      FormatJSON,
		Output:      NewOutput(buf),
		ServiceName: "cigate",
	})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, LevelWarn)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected warn entry, got %q", buf.String())
	}
}

func TestRunAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, LevelDebug).
		WithRun("run-1", "pytest").
		WithJob("test (3.8)").
		WithStep("Run tests")

	logger.Info("step started")

	entry := decode(t, &buf)
	want := map[string]string{
		KeyRunID:    "run-1",
		KeyWorkflow: "pytest",
		KeyJob:      "test (3.8)",
		KeyStep:     "Run tests",
		"service":   "cigate",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestWithError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{
			name:    "plain error",
			err:     fmt.Errorf("boom"),
			wantMsg: "boom",
		},
		{
			name:     "gate error",
			err:      errors.New(errors.ErrCodeHygieneViolation, "working tree changed"),
			wantCode: "HYGIENE-001",
			wantMsg:  "working tree changed",
		},
		{
			name:     "wrapped gate error",
			err:      fmt.Errorf("job test: %w", errors.New(errors.ErrCodeDistImportFailed, "import failed")),
			wantCode: "DIST-005",
			wantMsg:  "import failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newJSONLogger(&buf, LevelInfo).WithError(tt.err).Info("failed")

			entry := decode(t, &buf)
			if entry["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", entry["error"], tt.wantMsg)
			}
			if tt.wantCode != "" && entry["error_code"] != tt.wantCode {
				t.Errorf("error_code = %v, want %q", entry["error_code"], tt.wantCode)
			}
		})
	}
}

func TestWithErrorNil(t *testing.T) {
	logger := Discard()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	err := errors.NewExecDockerNotAvailableError()
	newJSONLogger(&buf, LevelInfo).LogError(err)

	entry := decode(t, &buf)
	if entry["error_code"] != "EXEC-001" {
		t.Errorf("error_code = %v", entry["error_code"])
	}
	if entry["docs_url"] == nil {
		t.Error("expected docs_url attribute")
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelToSlogLevel(t *testing.T) {
	if LevelError.ToSlogLevel() != slog.LevelError {
		t.Error("LevelError should map to slog.LevelError")
	}
	if Level(99).ToSlogLevel() != slog.LevelInfo {
		t.Error("unknown levels should map to slog.LevelInfo")
	}
	if Level(99).String() != "UNKNOWN" {
		t.Error("unknown levels should print UNKNOWN")
	}
}

func TestConfigFromFlags(t *testing.T) {
	cfg := ConfigFromFlags("debug", "json")
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON || !cfg.AddSource {
		t.Errorf("unexpected config %+v", cfg)
	}

	cfg = ConfigFromFlags("", "")
	if cfg.Level != LevelInfo || cfg.Format != FormatText {
		t.Errorf("unexpected default config %+v", cfg)
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)
	first := DefaultLogger()
	if first == nil {
		t.Fatal("DefaultLogger() returned nil")
	}
	if DefaultLogger() != first {
		t.Error("DefaultLogger() should be stable once initialised")
	}

	custom := Discard()
	SetDefaultLogger(custom)
	if DefaultLogger() != custom {
		t.Error("SetDefaultLogger() was not honoured")
	}
}

func TestDefaultLoggerFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "warning")
	t.Setenv(EnvFormat, "json")
	SetDefaultLogger(nil)
	t.Cleanup(func() { SetDefaultLogger(nil) })

	cfg := DefaultLogger().Config()
	if cfg.Level != LevelWarn || cfg.Format != FormatJSON {
		t.Errorf("DefaultLogger() config = %v/%v, want WARN/json", cfg.Level, cfg.Format)
	}
}
