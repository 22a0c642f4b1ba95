// Package repo wraps the git operations the pipeline needs: opening and
// cloning a checkout, switching branches, initialising submodules and
// reading worktree status.
package repo

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	giturls "github.com/whilp/git-urls"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Origin is the remote clones fetch from.
const Origin = git.DefaultRemoteName

// Repo is an opened git checkout.
type Repo struct {
	Dir  string
	repo *git.Repository
}

// Open opens the repository containing dir, walking up to find .git.
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitOpen, fmt.Sprintf("failed to open repository at %s", dir), err).
			WithSuggestion("Run cigate from inside a git checkout")
	}

	root := dir
	if wt, err := r.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &Repo{Dir: root, repo: r}, nil
}

// OpenAt opens the repository whose worktree root is exactly dir. A dir
// nested in some other checkout is reported as not a repository.
func OpenAt(dir string) (*Repo, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitOpen, fmt.Sprintf("no repository at %s", dir), err)
	}
	return &Repo{Dir: dir, repo: r}, nil
}

// Clone clones url into dir with submodules initialised recursively. An
// empty branch clones the remote default branch.
func Clone(ctx context.Context, url, dir, branch string) (*Repo, error) {
	opts := &git.CloneOptions{
		URL:               url,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	r, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to clone %s", url), err)
	}
	return &Repo{Dir: dir, repo: r}, nil
}

// Checkout switches the worktree to branch. A branch that only exists on
// origin is fetched and created locally.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, "failed to get worktree", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := r.repo.Reference(local, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local}); err != nil {
			return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to checkout %s", branch), err)
		}
		return nil
	}

	err = r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: git.DefaultRemoteName})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.Wrap(errors.ErrCodeGitCheckout, "failed to fetch origin", err)
	}

	remote, err := r.repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch), true)
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("branch %s not found locally or on origin", branch), err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: remote.Hash(), Create: true}); err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to checkout %s", branch), err)
	}
	return nil
}

// RemoteURL returns the first URL of the named remote.
func (r *Repo) RemoteURL(name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeGitOpen, fmt.Sprintf("no remote %s", name), err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", errors.New(errors.ErrCodeGitOpen, fmt.Sprintf("remote %s has no URL", name))
	}
	return urls[0], nil
}

// Update fetches branch from origin and moves the local branch, the
// worktree and the index to origin's tip, discarding local commits and
// changes. An empty branch updates the branch currently checked out.
func (r *Repo) Update(ctx context.Context, branch string) error {
	if branch == "" {
		current, _, err := r.Head()
		if err != nil {
			return err
		}
		if current == "" {
			return errors.New(errors.ErrCodeGitCheckout, "cannot update a detached HEAD without a branch")
		}
		branch = current
	}

	remoteRef := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch)
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), remoteRef))
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Force:      true,
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to fetch %s from origin", branch), err)
	}

	remote, err := r.repo.Reference(remoteRef, true)
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("branch %s not found on origin", branch), err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(local, remote.Hash())); err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to move %s", branch), err)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, "failed to get worktree", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return errors.Wrap(errors.ErrCodeGitCheckout, fmt.Sprintf("failed to checkout %s", branch), err)
	}
	return nil
}

// UpdateSubmodules initialises and updates every submodule recursively.
func (r *Repo) UpdateSubmodules(ctx context.Context) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitSubmodule, "failed to get worktree", err)
	}

	subs, err := wt.Submodules()
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitSubmodule, "failed to list submodules", err)
	}
	if len(subs) == 0 {
		return nil
	}

	err = subs.UpdateContext(ctx, &git.SubmoduleUpdateOptions{
		Init:              true,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeGitSubmodule, "failed to update submodules", err)
	}
	return nil
}

// Head returns the current branch name ("" when detached) and commit hash.
func (r *Repo) Head() (branch string, hash string, err error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeGitStatus, "failed to resolve HEAD", err)
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return branch, ref.Hash().String(), nil
}

// Entry is one changed path in porcelain form.
type Entry struct {
	Staging  byte
	Worktree byte
	Path     string
	// From is the original path of a rename or copy.
	From string
}

// String renders the entry as a porcelain v1 line.
func (e Entry) String() string {
	if e.From != "" {
		return fmt.Sprintf("%c%c %s -> %s", e.Staging, e.Worktree, e.From, e.Path)
	}
	return fmt.Sprintf("%c%c %s", e.Staging, e.Worktree, e.Path)
}

// Status is the branch plus the changed paths, sorted by path.
type Status struct {
	Branch  string
	Entries []Entry
}

// Status reads the worktree status. Ignored files are left out.
func (r *Repo) Status() (*Status, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitStatus, "failed to get worktree", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGitStatus, "failed to read worktree status", err)
	}

	out := &Status{}
	if ref, err := r.repo.Head(); err == nil && ref.Name().IsBranch() {
		out.Branch = ref.Name().Short()
	} else if err != nil && stderrors.Is(err, plumbing.ErrReferenceNotFound) {
		// unborn branch: HEAD points at a ref with no commits yet
		if sym, err := r.repo.Storer.Reference(plumbing.HEAD); err == nil {
			out.Branch = sym.Target().Short()
		}
	}

	for path, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		e := Entry{Staging: byte(fs.Staging), Worktree: byte(fs.Worktree), Path: filepath.ToSlash(path)}
		if fs.Staging == git.Renamed || fs.Staging == git.Copied {
			e.From = fs.Extra
		}
		out.Entries = append(out.Entries, e)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Path < out.Entries[j].Path })
	return out, nil
}

// DirName derives a clone directory name (host/owner/repo) from a git URL.
// A local path becomes local/<base name>.
func DirName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}
	path := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	if hostname == "" {
		return filepath.Join("local", filepath.Base(filepath.FromSlash(path))), nil
	}
	return filepath.Join(hostname, path), nil
}
