package repo

import "github.com/go-git/go-git/v5/plumbing"

func (r *Repo) createBranch(name, hash string) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(hash))
	return r.repo.Storer.SetReference(ref)
}
