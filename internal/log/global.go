package log

import (
	"os"
	"sync"
)

// Environment variables read when no logger was installed, e.g. when a
// hook or library caller logs before the CLI has parsed its flags.
const (
	EnvLevel  = "CIGATE_LOG_LEVEL"
	EnvFormat = "CIGATE_LOG_FORMAT"
)

var (
	defaultLogger *Logger
	loggerMu      sync.RWMutex
)

// SetDefaultLogger installs the process-wide logger. The CLI calls it once
// the --log-level and --log-format flags are known.
func SetDefaultLogger(logger *Logger) {
	loggerMu.Lock()
	defaultLogger = logger
	loggerMu.Unlock()
}

// DefaultLogger returns the installed logger or builds one from the
// environment.
func DefaultLogger() *Logger {
	loggerMu.RLock()
	l := defaultLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(ConfigFromFlags(os.Getenv(EnvLevel), os.Getenv(EnvFormat)))
	}
	return defaultLogger
}
