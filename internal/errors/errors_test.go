package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeWorkflowNotFound, "test error message")

	if err.Code != ErrCodeWorkflowNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeWorkflowNotFound, err.Code)
	}

	if err.Message != "test error message" {
		t.Errorf("expected message 'test error message', got '%s'", err.Message)
	}

	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeFileReadFailed, "failed to read file", cause)

	if err.Code != ErrCodeFileReadFailed {
		t.Errorf("expected code %s, got %s", ErrCodeFileReadFailed, err.Code)
	}

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}

	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *GateError
		wantCode string
		wantMsg  string
	}{
		{
			name:     "simple error",
			err:      New(ErrCodeWorkflowInvalid, "invalid workflow"),
			wantCode: "WORKFLOW-002",
			wantMsg:  "invalid workflow",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeFileReadFailed, "read failed", fmt.Errorf("permission denied")),
			wantCode: "IO-002",
			wantMsg:  "permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()

			if !strings.Contains(errStr, tt.wantCode) {
				t.Errorf("error string should contain code %s, got: %s", tt.wantCode, errStr)
			}

			if !strings.Contains(errStr, tt.wantMsg) {
				t.Errorf("error string should contain message '%s', got: %s", tt.wantMsg, errStr)
			}
		})
	}
}

func TestWithSuggestions(t *testing.T) {
	err := New(ErrCodeHygieneViolation, "tree changed").
		WithSuggestions("Suggestion 1", "Suggestion 2", "Suggestion 3")

	if len(err.Suggestions) != 3 {
		t.Errorf("expected 3 suggestions, got %d", len(err.Suggestions))
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "Suggestions:") {
		t.Errorf("error string should contain suggestions section")
	}
	for _, suggestion := range err.Suggestions {
		if !strings.Contains(errStr, suggestion) {
			t.Errorf("error string should contain suggestion: %s", suggestion)
		}
	}
}

func TestWithDocs(t *testing.T) {
	docsURL := "https://github.com/felixgeelhaar/cigate#workflows"
	err := New(ErrCodeWorkflowInvalid, "invalid workflow").WithDocs(docsURL)

	errStr := err.Error()
	if !strings.Contains(errStr, "Documentation: "+docsURL) {
		t.Errorf("error string should contain docs URL, got: %s", errStr)
	}
}

func TestNewMetadataMismatchError(t *testing.T) {
	err := NewMetadataMismatchError(
		"Checking dist/pkg-0.1.tar.gz: PASSED",
		"Checking dist/pkg-0.1.tar.gz: PASSED with warnings",
	)

	if err.Code != ErrCodeDistMetadataMismatch {
		t.Errorf("expected code %s, got %s", ErrCodeDistMetadataMismatch, err.Code)
	}

	if !strings.Contains(err.Message, `expected: "Checking dist/pkg-0.1.tar.gz: PASSED"`) {
		t.Errorf("message should contain the expected string verbatim, got: %s", err.Message)
	}
	if !strings.Contains(err.Message, "PASSED with warnings") {
		t.Errorf("message should contain the actual string verbatim, got: %s", err.Message)
	}
}

func TestNewImportFailedError(t *testing.T) {
	err := NewImportFailedError("autoPyTorch", "ModuleNotFoundError: No module named 'autoPyTorch.data'")

	if err.Code != ErrCodeDistImportFailed {
		t.Errorf("expected code %s, got %s", ErrCodeDistImportFailed, err.Code)
	}
	if !strings.Contains(err.Message, "ModuleNotFoundError") {
		t.Errorf("message should carry the interpreter output")
	}
}

func TestNewExecDockerNotAvailableError(t *testing.T) {
	err := NewExecDockerNotAvailableError()

	if len(err.Suggestions) < 3 {
		t.Errorf("expected at least 3 suggestions for Docker issues")
	}
	if err.DocsURL == "" {
		t.Errorf("expected docs URL to be set")
	}
}

func TestNewFileUnmarshalError(t *testing.T) {
	cause := fmt.Errorf("invalid YAML syntax at line 5")
	err := NewFileUnmarshalError("/path/to/pytest.yaml", "YAML", cause)

	if err.Code != ErrCodeConfigUnmarshal {
		t.Errorf("expected code %s, got %s", ErrCodeConfigUnmarshal, err.Code)
	}
	if err.Cause != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !strings.Contains(err.Message, "/path/to/pytest.yaml") {
		t.Errorf("error message should contain file path")
	}
}

func TestCodeAndHasCode(t *testing.T) {
	base := New(ErrCodeHygieneViolation, "working tree changed")
	wrapped := fmt.Errorf("job tests (3.8): %w", base)

	if got := Code(wrapped); got != ErrCodeHygieneViolation {
		t.Errorf("Code() = %s, want %s", got, ErrCodeHygieneViolation)
	}
	if !HasCode(wrapped, ErrCodeHygieneViolation) {
		t.Errorf("HasCode() should find the code through wrapping")
	}
	if HasCode(wrapped, ErrCodeTestsFailed) {
		t.Errorf("HasCode() should not match a different code")
	}
	if got := Code(fmt.Errorf("plain")); got != "" {
		t.Errorf("Code() of a plain error = %q, want empty", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeFileReadFailed, "read failed", cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap should return the cause")
	}
}
