package gitvcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

// CanPush compares the local head against the remote head without mutating
// local or remote state. It returns false when there is nothing to push:
// no local commits, or remote and local heads already equal.
func (e *Engine) CanPush(ctx context.Context, auth transport.AuthMethod) (bool, error) {
	if err := e.guard(); err != nil {
		return false, err
	}

	head, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	remote, err := e.repo.Remote(e.remoteName)
	if err != nil {
		return false, &PreconditionError{Reason: fmt.Sprintf("remote %q is not configured", e.remoteName)}
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return true, nil
	}
	if err != nil {
		return false, &NetworkError{Op: "list remote refs", Err: err}
	}

	for _, ref := range refs {
		if ref.Name() == head.Name() {
			return ref.Hash() != head.Hash(), nil
		}
	}
	// Remote does not know the branch yet.
	return true, nil
}

// Push updates the remote branch pointer to the local head. Without force it
// is fast-forward only: a diverged remote head yields *PushRejectedError and
// no ref update at all. With force the remote pointer is overwritten
// unconditionally.
func (e *Engine) Push(ctx context.Context, auth transport.AuthMethod, force bool) error {
	if err := e.guard(); err != nil {
		return err
	}

	head, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return &PreconditionError{Reason: "nothing to push: repository has no commits"}
	}
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	branch := head.Name().Short()

	if !force {
		if rejected, err := e.remoteDiverged(ctx, auth, head); err != nil {
			return err
		} else if rejected {
			return &PushRejectedError{Branch: branch}
		}
	}

	spec := fmt.Sprintf("%s:%s", head.Name(), head.Name())
	if force {
		spec = "+" + spec
	}

	err = e.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: e.remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
		Auth:       auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		e.logger.Info("Pushed branch", "branch", branch, "force", force, "commit", head.Hash().String())
		return nil
	case isNonFastForward(err):
		return &PushRejectedError{Branch: branch, Err: err}
	default:
		return &NetworkError{Op: "push", Err: err}
	}
}

// remoteDiverged reports whether the remote head of the pushed branch is
// neither equal to nor an ancestor of the local head. A remote commit the
// local store has never seen counts as diverged.
func (e *Engine) remoteDiverged(ctx context.Context, auth transport.AuthMethod, head *plumbing.Reference) (bool, error) {
	remote, err := e.repo.Remote(e.remoteName)
	if err != nil {
		return false, &PreconditionError{Reason: fmt.Sprintf("remote %q is not configured", e.remoteName)}
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return false, nil
	}
	if err != nil {
		return false, &NetworkError{Op: "list remote refs", Err: err}
	}

	for _, ref := range refs {
		if ref.Name() != head.Name() {
			continue
		}
		if ref.Hash() == head.Hash() {
			return false, nil
		}
		remoteCommit, err := e.repo.CommitObject(ref.Hash())
		if err != nil {
			return true, nil
		}
		localCommit, err := e.repo.CommitObject(head.Hash())
		if err != nil {
			return false, fmt.Errorf("failed to load local head commit: %w", err)
		}
		ancestor, err := remoteCommit.IsAncestor(localCommit)
		if err != nil {
			return false, fmt.Errorf("failed to compare histories: %w", err)
		}
		return !ancestor, nil
	}
	return false, nil
}

// Pull fetches and fast-forwards the current branch from its remote
// counterpart, updating the working tree.
func (e *Engine) Pull(ctx context.Context, auth transport.AuthMethod) error {
	if err := e.guard(); err != nil {
		return err
	}

	branch, err := e.Branch()
	if err != nil {
		return err
	}

	err = e.wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    e.remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository):
		e.logger.Info("Pulled branch", "branch", branch)
		return nil
	case isNonFastForward(err):
		return &PreconditionError{Reason: fmt.Sprintf("pull of %q requires a merge: local and remote histories have diverged", branch)}
	default:
		return &NetworkError{Op: "pull", Err: err}
	}
}

// Fetch retrieves remote refs and history up to depth commits. It never
// moves local branch pointers or the working tree. depth 1 is a cheap
// branch-list refresh; deeper fetches precede merge and remote checkout.
func (e *Engine) Fetch(ctx context.Context, auth transport.AuthMethod, allBranches bool, depth int) error {
	if err := e.guard(); err != nil {
		return err
	}

	var specs []config.RefSpec
	if allBranches {
		specs = append(specs, config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", e.remoteName)))
	} else {
		branch, err := e.Branch()
		if err != nil {
			return err
		}
		specs = append(specs, config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, e.remoteName, branch)))
	}

	err := e.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: e.remoteName,
		RefSpecs:   specs,
		Depth:      depth,
		Auth:       auth,
		Tags:       git.NoTags,
		Force:      true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository):
		e.logger.Debug("Fetched remote refs", "all_branches", allBranches, "depth", depth)
		return nil
	default:
		return &NetworkError{Op: "fetch", Err: err}
	}
}

// VerifyRemote checks a remote is reachable and the auth material works by
// listing its refs through a throwaway in-memory remote. An empty remote
// repository passes: it becomes usable on first push.
func VerifyRemote(ctx context.Context, remoteURL string, auth transport.AuthMethod) error {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: DefaultRemote,
		URLs: []string{remoteURL},
	})
	_, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return &NetworkError{Op: "verify remote", Err: err}
	}
	return nil
}

func isNonFastForward(err error) bool {
	if errors.Is(err, git.ErrNonFastForwardUpdate) {
		return true
	}
	// The receive-pack report carries the rejection as message text only.
	return err != nil && strings.Contains(err.Error(), "non-fast-forward")
}
