package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Workflow errors (WORKFLOW-001 to WORKFLOW-099)
	ErrCodeWorkflowNotFound  ErrorCode = "WORKFLOW-001"
	ErrCodeWorkflowInvalid   ErrorCode = "WORKFLOW-002"
	ErrCodeWorkflowUnmarshal ErrorCode = "WORKFLOW-003"
	ErrCodeJobFailed         ErrorCode = "WORKFLOW-004"
	ErrCodeActionUnknown     ErrorCode = "WORKFLOW-005"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeExecDockerNotAvailable ErrorCode = "EXEC-001"
	ErrCodeExecStartFailed        ErrorCode = "EXEC-002"
	ErrCodeExecTimeout            ErrorCode = "EXEC-003"
	ErrCodeExecPolicyViolation    ErrorCode = "EXEC-004"
	ErrCodeExecNonZeroExit        ErrorCode = "EXEC-005"

	// Distribution errors (DIST-001 to DIST-099)
	ErrCodeDistBuildFailed      ErrorCode = "DIST-001"
	ErrCodeDistNoArtifact       ErrorCode = "DIST-002"
	ErrCodeDistMetadataMismatch ErrorCode = "DIST-003"
	ErrCodeDistInstallFailed    ErrorCode = "DIST-004"
	ErrCodeDistImportFailed     ErrorCode = "DIST-005"

	// Hygiene errors (HYGIENE-001 to HYGIENE-099)
	ErrCodeHygieneViolation ErrorCode = "HYGIENE-001"
	ErrCodeHygieneBaseline  ErrorCode = "HYGIENE-002"

	// Test errors (TEST-001 to TEST-099)
	ErrCodeTestsFailed   ErrorCode = "TEST-001"
	ErrCodeTestsTimedOut ErrorCode = "TEST-002"
	ErrCodeTestsNotRun   ErrorCode = "TEST-003"

	// Static analysis errors (LINT-001 to LINT-099)
	ErrCodeTypeCheckFailed ErrorCode = "LINT-001"
	ErrCodeStyleFailed     ErrorCode = "LINT-002"

	// Coverage errors (COVERAGE-001 to COVERAGE-099)
	ErrCodeCoverageUpload ErrorCode = "COVERAGE-001"
	ErrCodeCoverageReport ErrorCode = "COVERAGE-002"

	// Git errors (GIT-001 to GIT-099)
	ErrCodeGitOpen      ErrorCode = "GIT-001"
	ErrCodeGitCheckout  ErrorCode = "GIT-002"
	ErrCodeGitSubmodule ErrorCode = "GIT-003"
	ErrCodeGitStatus    ErrorCode = "GIT-004"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid   ErrorCode = "CONFIG-001"
	ErrCodeConfigUnmarshal ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
)

// GateError represents an enhanced error with code, suggestions, and documentation
type GateError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *GateError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *GateError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GateError with the same code.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// New creates a new GateError
func New(code ErrorCode, message string) *GateError {
	return &GateError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new GateError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *GateError {
	return &GateError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *GateError) WithSuggestion(suggestion string) *GateError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *GateError) WithSuggestions(suggestions ...string) *GateError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *GateError) WithDocs(url string) *GateError {
	e.DocsURL = url
	return e
}

// Code returns the error code of the first GateError in err's chain, or "".
func Code(err error) ErrorCode {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a GateError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &GateError{Code: code})
}

// Common error constructors for frequently used errors

// NewWorkflowNotFoundError creates a workflow not found error
func NewWorkflowNotFoundError(name string) *GateError {
	return New(ErrCodeWorkflowNotFound, fmt.Sprintf("workflow not found: %s", name)).
		WithSuggestion("Run 'cigate workflows' to list available workflows").
		WithSuggestion("Check the files under .cigate/workflows")
}

// NewWorkflowInvalidError creates a workflow validation error
func NewWorkflowInvalidError(workflow string, details string) *GateError {
	return New(ErrCodeWorkflowInvalid, fmt.Sprintf("invalid workflow %q: %s", workflow, details)).
		WithSuggestion("Run 'cigate validate' to see every validation error")
}

// NewMetadataMismatchError creates an error for a failed metadata check.
// Both strings are surfaced verbatim.
func NewMetadataMismatchError(expected, actual string) *GateError {
	return New(ErrCodeDistMetadataMismatch,
		fmt.Sprintf("metadata check failed\nexpected: %q\nactual:   %q", expected, actual)).
		WithSuggestion("Fix the package metadata (long_description, classifiers, license)").
		WithSuggestion("Run 'twine check dist/*' locally to reproduce")
}

// NewImportFailedError creates an error for a package that does not import after install
func NewImportFailedError(module string, output string) *GateError {
	msg := fmt.Sprintf("installed package %q cannot be imported outside the source tree", module)
	if output != "" {
		msg += "\n" + output
	}
	return New(ErrCodeDistImportFailed, msg).
		WithSuggestion("Check that every subpackage is listed in the package manifest").
		WithSuggestion("Check that data files are declared as package data")
}

// NewExecDockerNotAvailableError creates a Docker not available error
func NewExecDockerNotAvailableError() *GateError {
	return New(ErrCodeExecDockerNotAvailable, "Docker is not available").
		WithSuggestion("Install Docker Desktop or Docker Engine").
		WithSuggestion("Make sure Docker daemon is running").
		WithSuggestion("Set runner: local in .cigate/config.yaml to run steps on the host").
		WithDocs("https://docs.docker.com/get-docker/")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *GateError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *GateError {
	return Wrap(ErrCodeConfigUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
