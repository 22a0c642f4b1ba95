package exitcode

import (
	"os"
	"strings"

	gateerrors "github.com/felixgeelhaar/cigate/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition. Every verification
	// failure (metadata mismatch, import failure, hygiene violation, failing
	// tests, lint findings) exits with this code.
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ConfigError indicates an invalid workflow or configuration file
	ConfigError = 3

	// PolicyViolation indicates an execution policy enforcement failure
	PolicyViolation = 4

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch code := gateerrors.Code(err); {
	case code == gateerrors.ErrCodeExecPolicyViolation:
		return PolicyViolation
	case strings.HasPrefix(string(code), "CONFIG-"),
		code == gateerrors.ErrCodeWorkflowInvalid,
		code == gateerrors.ErrCodeWorkflowUnmarshal,
		code == gateerrors.ErrCodeWorkflowNotFound,
		code == gateerrors.ErrCodeActionUnknown:
		return ConfigError
	case code != "":
		return GeneralError
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "invalid flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown shorthand flag") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg(s)") {
		return UsageError
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "Verification failed"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ConfigError:
		return "Invalid workflow or configuration"
	case PolicyViolation:
		return "Execution policy violation"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
