package log

import (
	"log/slog"
	"strings"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levels = []struct {
	name  string
	slog  slog.Level
	alias []string
}{
	LevelDebug: {"DEBUG", slog.LevelDebug, []string{"debug", "trace"}},
	LevelInfo:  {"INFO", slog.LevelInfo, []string{"info", ""}},
	LevelWarn:  {"WARN", slog.LevelWarn, []string{"warn", "warning"}},
	LevelError: {"ERROR", slog.LevelError, []string{"error", "err"}},
}

func (l Level) valid() bool {
	return l >= LevelDebug && int(l) < len(levels)
}

func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levels[l].name
}

// ToSlogLevel maps l onto slog. Out-of-range levels log at INFO.
func (l Level) ToSlogLevel() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return levels[l].slog
}

// ParseLevel accepts the --log-level and CIGATE_LOG_LEVEL spellings.
// Unknown values yield INFO.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, def := range levels {
		for _, a := range def.alias {
			if a == s {
				return Level(l)
			}
		}
	}
	return LevelInfo
}
