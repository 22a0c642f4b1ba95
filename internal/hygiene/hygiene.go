// Package hygiene detects side effects of a test run on the working tree
// by comparing git status snapshots taken before and after the run.
package hygiene

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/repo"
)

// Snapshot is the worktree status rendered like `git status --porcelain -b`:
// a "## <branch>" line followed by one "XY <path>" line per changed path.
type Snapshot string

// Render formats a status as a snapshot.
func Render(st *repo.Status) Snapshot {
	var b strings.Builder
	if st.Branch != "" {
		fmt.Fprintf(&b, "## %s\n", st.Branch)
	} else {
		b.WriteString("## HEAD (no branch)\n")
	}
	for _, e := range st.Entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return Snapshot(b.String())
}

// Capture reads the status of the repository containing dir.
func Capture(ctx context.Context, dir string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := repo.Open(dir)
	if err != nil {
		return "", err
	}
	st, err := r.Status()
	if err != nil {
		return "", err
	}
	return Render(st), nil
}

// Lines splits the snapshot into lines without trailing newlines.
func (s Snapshot) Lines() []string {
	trimmed := strings.TrimSuffix(string(s), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// Filter drops status lines whose path matches one of the gitignore-style
// patterns. The branch line is always kept.
func (s Snapshot) Filter(ignore []string) Snapshot {
	if len(ignore) == 0 {
		return s
	}
	matcher := gitignore.CompileIgnoreLines(ignore...)

	var b strings.Builder
	for _, line := range s.Lines() {
		if !strings.HasPrefix(line, "## ") && matcher.MatchesPath(linePath(line)) {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return Snapshot(b.String())
}

func linePath(line string) string {
	if len(line) < 4 {
		return ""
	}
	path := line[3:]
	if _, to, ok := strings.Cut(path, " -> "); ok {
		return to
	}
	return path
}

// Compare checks that after equals before byte for byte once ignored
// paths are removed. A difference yields a *Violation.
func Compare(before, after Snapshot, ignore []string) error {
	b := before.Filter(ignore)
	a := after.Filter(ignore)
	if a == b {
		return nil
	}

	v := &Violation{Before: string(before), After: string(after)}
	beforeLines := b.Lines()
	afterLines := a.Lines()
	v.Added = missingFrom(afterLines, beforeLines)
	v.Removed = missingFrom(beforeLines, afterLines)
	v.Diff = cmp.Diff(beforeLines, afterLines)
	return v
}

func missingFrom(lines, other []string) []string {
	seen := make(map[string]bool, len(other))
	for _, l := range other {
		seen[l] = true
	}
	var out []string
	for _, l := range lines {
		if !seen[l] {
			out = append(out, l)
		}
	}
	return out
}

// Violation reports a worktree that changed during a run.
type Violation struct {
	Before  string
	After   string
	Added   []string
	Removed []string
	Diff    string
}

// Error prints both snapshots and the line diff.
func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] working tree changed during the run\n", errors.ErrCodeHygieneViolation)
	b.WriteString("Before:\n")
	b.WriteString(indent(v.Before))
	b.WriteString("After:\n")
	b.WriteString(indent(v.After))
	if v.Diff != "" {
		b.WriteString("Diff (-before +after):\n")
		b.WriteString(v.Diff)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Unwrap exposes the error code to errors.As and errors.Is.
func (v *Violation) Unwrap() error {
	return errors.New(errors.ErrCodeHygieneViolation, "working tree changed during the run").
		WithSuggestion("Make tests write into a temporary directory and clean up after themselves")
}

func indent(s string) string {
	if s == "" {
		return "    (empty)\n"
	}
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
