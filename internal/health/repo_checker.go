package health

import (
	"context"

	"github.com/felixgeelhaar/cigate/internal/repo"
)

// RepoChecker checks that the project is a readable git repository, which
// the checkout and hygiene steps need.
type RepoChecker struct {
	dir string
}

// NewRepoChecker creates a checker for the repository at dir.
func NewRepoChecker(dir string) *RepoChecker {
	return &RepoChecker{dir: dir}
}

// Name returns the name of this health check.
func (c *RepoChecker) Name() string {
	return "git-repository"
}

// Check opens the repository and reads HEAD and the worktree status. A
// dirty tree is reported but healthy; the hygiene check compares against
// its own baseline.
func (c *RepoChecker) Check(_ context.Context) *Result {
	r, err := repo.Open(c.dir)
	if err != nil {
		return Unhealthy("not a git repository").
			WithError(err).
			WithSuggestion("Run cigate from the project root")
	}

	branch, hash, err := r.Head()
	if err != nil {
		return Degraded("repository has no commits").WithError(err)
	}

	status, err := r.Status()
	if err != nil {
		return Degraded("cannot read worktree status").WithError(err)
	}

	result := Healthy("repository is readable").
		WithDetail("branch", branch).
		WithDetail("head", hash)
	if len(status.Entries) > 0 {
		result.WithDetail("changes", len(status.Entries))
	}
	return result
}
