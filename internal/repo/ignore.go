package repo

import (
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Untracked reports whether a slash-separated path relative to the
// worktree root is excluded by .gitignore files or info/exclude and holds
// nothing tracked. Such paths can be left out of a copy of the checkout
// without changing its status.
type Untracked func(rel string, isDir bool) bool

// IgnoredPaths returns the Untracked predicate for the checkout.
func (r *Repo) IgnoredPaths() (Untracked, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitStatus, "failed to get worktree", err)
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitStatus, "failed to read .gitignore files", err)
	}
	matcher := gitignore.NewMatcher(append(patterns, wt.Excludes...))

	tracked := map[string]bool{}
	trackedDirs := map[string]bool{}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitStatus, "failed to read index", err)
	}
	for _, e := range idx.Entries {
		tracked[e.Name] = true
		for dir := path.Dir(e.Name); dir != "."; dir = path.Dir(dir) {
			trackedDirs[dir] = true
		}
	}

	return func(rel string, isDir bool) bool {
		if rel == "" || rel == "." {
			return false
		}
		if (isDir && trackedDirs[rel]) || (!isDir && tracked[rel]) {
			return false
		}
		return matcher.Match(strings.Split(rel, "/"), isDir)
	}, nil
}
