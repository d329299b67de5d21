package gitvcs

import (
	"errors"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"
)

// Branches returns local branch names, sorted. An empty repository reports
// its single unborn default branch.
func (e *Engine) Branches() ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	var names []string
	iter, err := e.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrReferenceHasChanged) {
		return nil, fmt.Errorf("failed to walk branches: %w", err)
	}

	// An unborn HEAD still names the default branch.
	if len(names) == 0 {
		current, berr := e.Branch()
		if berr != nil {
			return nil, berr
		}
		names = append(names, current)
	}
	return sortedShortNames(names), nil
}

// RemoteBranches returns the short names of the tracked remote's branch
// mirrors, sorted. Mirrors are read-only and move only on fetch.
func (e *Engine) RemoteBranches() ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	refs, err := e.repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	prefix := fmt.Sprintf("refs/remotes/%s/", e.remoteName)
	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := string(ref.Name())
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		short := strings.TrimPrefix(name, prefix)
		if short == "HEAD" {
			return nil
		}
		names = append(names, short)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk references: %w", err)
	}
	return sortedShortNames(names), nil
}

// Checkout switches the working tree to the head commit of branch, forcing
// tree content to match exactly. A branch that exists only as a remote
// mirror gets a local tracking branch first; callers needing deeper history
// must fetch before checking out.
func (e *Engine) Checkout(branch string) error {
	if err := e.guard(); err != nil {
		return err
	}

	// The unborn default branch of an empty repository has no ref to resolve
	// yet; checking it out is a no-op rather than an error.
	if current, err := e.Branch(); err == nil && current == branch {
		if head, herr := e.Head(); herr == nil && head == "" {
			return nil
		}
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := e.repo.Reference(branchRef, true); err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("failed to resolve branch %q: %w", branch, err)
		}
		if trackErr := e.trackRemoteBranch(branch, branchRef); trackErr != nil {
			return trackErr
		}
	}

	if err := e.wt.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Force:  true,
	}); err != nil {
		return fmt.Errorf("failed to checkout %q: %w", branch, err)
	}
	e.logger.Debug("Checked out branch", "branch", branch)
	return nil
}

// trackRemoteBranch creates a local branch pointing at the remote mirror of
// the same name, with tracking config.
func (e *Engine) trackRemoteBranch(branch string, branchRef plumbing.ReferenceName) error {
	remoteRef, err := e.repo.Reference(plumbing.NewRemoteReferenceName(e.remoteName, branch), true)
	if err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("branch %q does not exist locally or on %s", branch, e.remoteName)}
	}

	if err := e.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
		return fmt.Errorf("failed to create local branch %q: %w", branch, err)
	}

	err = e.repo.CreateBranch(&config.Branch{
		Name:   branch,
		Remote: e.remoteName,
		Merge:  branchRef,
	})
	if err != nil && !errors.Is(err, git.ErrBranchExists) {
		return fmt.Errorf("failed to record tracking config for %q: %w", branch, err)
	}
	e.logger.Info("Created local tracking branch", "branch", branch, "remote", e.remoteName)
	return nil
}

// DeleteBranch removes a local branch pointer. Deleting the currently
// checked-out branch is refused.
func (e *Engine) DeleteBranch(branch string) error {
	if err := e.guard(); err != nil {
		return err
	}

	current, err := e.Branch()
	if err != nil {
		return err
	}
	if current == branch {
		return &PreconditionError{Reason: fmt.Sprintf("cannot delete the checked-out branch %q", branch)}
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := e.repo.Reference(branchRef, false); err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("branch %q does not exist", branch)}
	}

	// Tracking config may or may not exist.
	if err := e.repo.DeleteBranch(branch); err != nil && !errors.Is(err, git.ErrBranchNotFound) {
		return fmt.Errorf("failed to delete branch config for %q: %w", branch, err)
	}
	if err := e.repo.Storer.RemoveReference(branchRef); err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", branch, err)
	}
	e.logger.Info("Deleted branch", "branch", branch)
	return nil
}
