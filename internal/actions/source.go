package actions

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/cigate/internal/config"
	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/pipeline"
	"github.com/felixgeelhaar/cigate/internal/repo"
)

// checkoutAction prepares the working tree at ref. With a repository
// input the working directory is a dedicated clone of it: created on the
// first run, fetched and reset to origin's ref on every later one.
// Without one it is the project checkout, switched to ref and, when the
// project has an origin, reset to origin's ref. submodules: recursive
// (or true) initialises and updates every submodule.
func checkoutAction(_ *config.Config) func(context.Context, *pipeline.StepContext) error {
	return func(ctx context.Context, sc *pipeline.StepContext) error {
		ref := sc.Input("ref", "")
		url := sc.Input("repository", "")

		var r *repo.Repo
		var err error
		if url != "" {
			r, err = syncClone(ctx, sc, url, ref)
		} else {
			r, err = syncProject(ctx, sc, ref)
		}
		if err != nil {
			return err
		}

		switch sc.Input("submodules", "false") {
		case "true", "recursive":
			if err := r.UpdateSubmodules(ctx); err != nil {
				return err
			}
		}

		branch, hash, err := r.Head()
		if err != nil {
			return err
		}
		if branch == "" {
			branch = "(detached)"
		}
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(sc.Out, "checked out %s at %s\n", branch, hash)
		return nil
	}
}

func syncClone(ctx context.Context, sc *pipeline.StepContext, url, ref string) (*repo.Repo, error) {
	r, err := repo.OpenAt(sc.Workdir)
	if err != nil {
		sc.Logger.Info("cloning repository", "url", url, "ref", ref)
		return repo.Clone(ctx, url, sc.Workdir, ref)
	}

	if origin, err := r.RemoteURL(repo.Origin); err == nil && origin != url {
		return nil, errors.New(errors.ErrCodeGitCheckout,
			fmt.Sprintf("%s is a clone of %s, not %s", sc.Workdir, origin, url)).
			WithSuggestion("Remove the directory so it is cloned again")
	}
	sc.Logger.Info("updating clone", "url", url, "ref", ref)
	return r, r.Update(ctx, ref)
}

func syncProject(ctx context.Context, sc *pipeline.StepContext, ref string) (*repo.Repo, error) {
	r, err := repo.Open(sc.Workdir)
	if err != nil || ref == "" {
		return r, err
	}

	if branch, _, _ := r.Head(); branch != ref {
		sc.Logger.Info("switching branch", "from", branch, "to", ref)
		if err := r.Checkout(ctx, ref); err != nil {
			return nil, err
		}
	}
	if _, err := r.RemoteURL(repo.Origin); err != nil {
		return r, nil
	}
	return r, r.Update(ctx, ref)
}
