package manifest

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// gitClone clones a git repository to dest.
func gitClone(url, dest string) error {
	if _, err := git.PlainClone(dest, false, &git.CloneOptions{URL: url}); err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// gitCheckout checks out a specific ref (tag, branch, or commit) in a repo.
func gitCheckout(dir, ref string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("git open %s: %w", dir, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("git resolve %s in %s: %w", ref, dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("git checkout %s in %s: %w", ref, dir, err)
	}
	return nil
}

// gitFetch fetches updates and tags from the remote.
func gitFetch(dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("git open %s: %w", dir, err)
	}
	err = repo.Fetch(&git.FetchOptions{Tags: git.AllTags})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git fetch in %s: %w", dir, err)
	}
	return nil
}

// gitCurrentCommit returns the current HEAD commit hash.
func gitCurrentCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("git open %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("git head in %s: %w", dir, err)
	}
	return head.Hash().String(), nil
}

// gitIsClean returns true if the working directory has no uncommitted changes.
func gitIsClean(dir string) (bool, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("git open %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, err
	}
	st, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("git status in %s: %w", dir, err)
	}
	return st.IsClean(), nil
}
