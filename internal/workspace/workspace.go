// Package workspace gives every job instance a private copy of the
// project checkout. Concurrent instances then never see each other's
// build output, coverage files or test leftovers, and a hygiene check
// only judges the job it belongs to.
package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/repo"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager provisions workspaces under Root, one directory per run and
// instance: <Root>/<run id>/<instance>.
type Manager struct {
	Root string
	// Skip lists absolute paths never copied besides Root, typically the
	// state dir.
	Skip   []string
	Logger *log.Logger
}

// Provision copies src into a fresh workspace and returns its path and a
// release func that removes it. In a git checkout, .git is copied whole
// and paths that are gitignored and untracked are left out, so the copy
// has the same status as src. Outside one everything but Skip is copied.
func (m *Manager) Provision(ctx context.Context, src, runID, instance string) (string, func(), error) {
	runDir := filepath.Join(m.Root, DirName(runID))
	dst := filepath.Join(runDir, DirName(instance))
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return "", nil, errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create workspace "+dst, err)
	}

	release := func() {
		if err := os.RemoveAll(dst); err != nil {
			m.logger().Warn("failed to remove workspace", "dir", dst, "error", err)
		}
		// the run dir goes once its last instance is released
		_ = os.Remove(runDir)
	}

	var untracked repo.Untracked
	if r, err := repo.OpenAt(src); err == nil {
		if untracked, err = r.IgnoredPaths(); err != nil {
			release()
			return "", nil, err
		}
	} else {
		m.logger().Warn("not a git checkout, copying every file", "dir", src)
	}

	if err := m.copyTree(ctx, src, dst, untracked); err != nil {
		release()
		return "", nil, errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("failed to copy %s into workspace", src), err)
	}
	m.logger().Debug("workspace ready", "src", src, "dir", dst)
	return dst, release, nil
}

func (m *Manager) copyTree(ctx context.Context, src, dst string, untracked repo.Untracked) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if m.skipped(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		slash := filepath.ToSlash(rel)
		inGitDir := slash == ".git" || strings.HasPrefix(slash, ".git/")
		if !inGitDir && untracked != nil && untracked(slash, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		}
		// sockets, fifos and devices have no place in a checkout copy
		return nil
	})
}

func (m *Manager) skipped(path string) bool {
	for _, s := range append([]string{m.Root}, m.Skip...) {
		if path == s || strings.HasPrefix(path, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Discard()
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DirName turns a run id or instance name such as "test (3.8)" into a
// single path element.
func DirName(s string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "job"
	}
	return s
}
