// Package syncer sequences sync engine operations with transaction
// buffering and metadata cache refresh. It is the surface UI-shaped callers
// go through; they never talk to the engine directly.
package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/metadata"
	"github.com/gitsync/gitsync/internal/store"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// remoteCheckoutFetchDepth is the history depth fetched before checking out
// a remote-only branch; deep enough for merge bases on typical workspaces.
const remoteCheckoutFetchDepth = 20

// Engine is the VCS contract the orchestrator drives. *gitvcs.Engine
// implements it; tests substitute scripted engines.
type Engine interface {
	Initialized() bool
	Branch() (string, error)
	Branches() ([]string, error)
	RemoteBranches() ([]string, error)
	Log() ([]api.CommitInfo, error)
	Head() (string, error)
	Checkout(branch string) error
	Merge(branch string) (string, error)
	CommitAll(message string) (string, error)
	DeleteBranch(branch string) error
	CanPush(ctx context.Context, auth transport.AuthMethod) (bool, error)
	Push(ctx context.Context, auth transport.AuthMethod, force bool) error
	Pull(ctx context.Context, auth transport.AuthMethod) error
	Fetch(ctx context.Context, auth transport.AuthMethod, allBranches bool, depth int) error
	WorktreeFS() (billy.Filesystem, error)
}

// Orchestrator runs the fixed choreography of each user-facing sync action:
// buffer begin, engine operation, buffer flush, cache refresh. One logical
// worker per repository; concurrent invocations are refused with CodeBusy
// rather than queued.
type Orchestrator struct {
	workspaceID string
	engine      Engine
	buffer      *store.TxBuffer
	cache       *metadata.Cache
	importer    *Importer
	reinit      func(context.Context) error
	logger      *slog.Logger

	mu sync.Mutex
}

type Config struct {
	WorkspaceID string
	Engine      Engine
	Buffer      *store.TxBuffer
	Cache       *metadata.Cache
	Importer    *Importer
	// Reinit rebuilds dependent in-memory entity caches after checkout has
	// flushed. Optional.
	Reinit func(context.Context) error
	Logger *slog.Logger
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		workspaceID: cfg.WorkspaceID,
		engine:      cfg.Engine,
		buffer:      cfg.Buffer,
		cache:       cfg.Cache,
		importer:    cfg.Importer,
		reinit:      cfg.Reinit,
		logger:      logger,
	}
}

// report converts err into its reportable form and logs it. Every failing
// operation funnels through here; nothing propagates raw.
func (o *Orchestrator) report(op string, err error) *SyncError {
	if synced, ok := err.(*SyncError); ok {
		return synced
	}
	reported := classify(op, err)
	o.logger.Error("Sync operation failed", "op", op, "code", string(reported.Code), "workspace", o.workspaceID, "error", err)
	return reported
}

func (o *Orchestrator) acquire(op string) (*SyncError, func()) {
	if !o.mu.TryLock() {
		return &SyncError{Op: op, Code: CodeBusy, Message: "another sync operation is in flight"}, nil
	}
	return nil, o.mu.Unlock
}

// Pull fetches and fast-forwards the current branch. The buffer is flushed
// without notification: pull does not change what checkout materialized
// unless the head moved, and the follow-up paint reads via the cache.
func (o *Orchestrator) Pull(ctx context.Context, auth transport.AuthMethod) *SyncError {
	busy, release := o.acquire("pull")
	if busy != nil {
		return busy
	}
	defer release()

	id := o.buffer.Begin()
	opErr := o.engine.Pull(ctx, auth)
	if ferr := o.buffer.Flush(ctx, id, false); ferr != nil && opErr == nil {
		opErr = ferr
	}
	if opErr != nil {
		return o.report("pull", opErr)
	}
	return nil
}

// Push uploads the current branch head. A rejected push is reported with
// CanForcePush set; retrying with force is an explicit caller decision, not
// a background policy.
func (o *Orchestrator) Push(ctx context.Context, auth transport.AuthMethod, force bool) *SyncError {
	busy, release := o.acquire("push")
	if busy != nil {
		return busy
	}
	defer release()

	ok, err := o.engine.CanPush(ctx, auth)
	if err != nil {
		return o.report("push", err)
	}
	if !ok {
		o.logger.Info("Nothing to push", "workspace", o.workspaceID)
		return &SyncError{Op: "push", Code: CodeNothingToPush, Message: "nothing to push"}
	}

	id := o.buffer.Begin()
	opErr := o.engine.Push(ctx, auth, force)
	if ferr := o.buffer.Flush(ctx, id, false); ferr != nil && opErr == nil {
		opErr = ferr
	}
	if opErr != nil {
		return o.report("push", opErr)
	}
	return nil
}

// Checkout switches the working tree to branch and materializes it into the
// document database, then rebuilds in-memory caches and refreshes metadata.
func (o *Orchestrator) Checkout(ctx context.Context, branch string) *SyncError {
	busy, release := o.acquire("checkout")
	if busy != nil {
		return busy
	}
	defer release()
	return o.checkoutLocked(ctx, branch)
}

func (o *Orchestrator) checkoutLocked(ctx context.Context, branch string) *SyncError {
	id := o.buffer.Begin()
	opErr := o.engine.Checkout(branch)
	if opErr == nil {
		if fs, err := o.engine.WorktreeFS(); err != nil {
			opErr = err
		} else {
			opErr = o.importer.Import(ctx, o.workspaceID, fs)
		}
	}
	// The buffer is flushed even when checkout failed, so the database never
	// stays buffered; subscribers re-derive either way.
	if ferr := o.buffer.Flush(ctx, id, true); ferr != nil && opErr == nil {
		opErr = ferr
	}
	if opErr != nil {
		return o.report("checkout", opErr)
	}

	if o.reinit != nil {
		if err := o.reinit(ctx); err != nil {
			return o.report("checkout", err)
		}
	}
	if err := o.cache.Refresh(ctx, o.workspaceID, o.engine); err != nil {
		return o.report("checkout", err)
	}
	return nil
}

// Merge three-way merges branch into the current branch and returns the
// resulting head commit, then runs the full checkout choreography on the
// current branch. Merge alone never updates the working tree, so the merged
// result must be materialized explicitly.
func (o *Orchestrator) Merge(ctx context.Context, branch string) (string, *SyncError) {
	busy, release := o.acquire("merge")
	if busy != nil {
		return "", busy
	}
	defer release()

	hash, err := o.engine.Merge(branch)
	if err != nil {
		return "", o.report("merge", err)
	}
	o.logger.Info("Merged branch", "workspace", o.workspaceID, "branch", branch, "commit", hash)

	current, err := o.engine.Branch()
	if err != nil {
		return "", o.report("merge", err)
	}
	return hash, o.checkoutLocked(ctx, current)
}

// RemoteCheckout fetches deeper history for all branches first, then checks
// out a branch that so far exists only on the remote.
func (o *Orchestrator) RemoteCheckout(ctx context.Context, branch string, auth transport.AuthMethod) *SyncError {
	busy, release := o.acquire("checkout")
	if busy != nil {
		return busy
	}
	defer release()

	if err := o.engine.Fetch(ctx, auth, true, remoteCheckoutFetchDepth); err != nil {
		return o.report("fetch", err)
	}
	return o.checkoutLocked(ctx, branch)
}

// Fetch refreshes remote refs; depth 1 is the cheap branch-list refresh.
func (o *Orchestrator) Fetch(ctx context.Context, auth transport.AuthMethod, allBranches bool, depth int) *SyncError {
	busy, release := o.acquire("fetch")
	if busy != nil {
		return busy
	}
	defer release()

	if err := o.engine.Fetch(ctx, auth, allBranches, depth); err != nil {
		return o.report("fetch", err)
	}
	return nil
}

// Commit stages and commits all working-tree changes, then refreshes
// metadata. The richer staging flow lives with the caller.
func (o *Orchestrator) Commit(ctx context.Context, message string) (string, *SyncError) {
	busy, release := o.acquire("commit")
	if busy != nil {
		return "", busy
	}
	defer release()

	hash, err := o.engine.CommitAll(message)
	if err != nil {
		return "", o.report("commit", err)
	}
	if err := o.cache.Refresh(ctx, o.workspaceID, o.engine); err != nil {
		return "", o.report("commit", err)
	}
	return hash, nil
}

// DeleteBranch removes a local branch pointer.
func (o *Orchestrator) DeleteBranch(branch string) *SyncError {
	busy, release := o.acquire("delete-branch")
	if busy != nil {
		return busy
	}
	defer release()

	if err := o.engine.DeleteBranch(branch); err != nil {
		return o.report("delete-branch", err)
	}
	return nil
}

// Log returns commit history, newest first.
func (o *Orchestrator) Log() ([]api.CommitInfo, *SyncError) {
	entries, err := o.engine.Log()
	if err != nil {
		return nil, o.report("log", err)
	}
	return entries, nil
}

// Branches lists local and remote branch names plus the checked-out branch.
func (o *Orchestrator) Branches() (*api.BranchList, *SyncError) {
	list := &api.BranchList{}
	var err error
	if list.Current, err = o.engine.Branch(); err != nil {
		return nil, o.report("branches", err)
	}
	if list.Branches, err = o.engine.Branches(); err != nil {
		return nil, o.report("branches", err)
	}
	if list.RemoteBranches, err = o.engine.RemoteBranches(); err != nil {
		return nil, o.report("branches", err)
	}
	return list, nil
}

// Status summarizes current engine state for one paint.
func (o *Orchestrator) Status() (*api.SyncStatus, *SyncError) {
	status := &api.SyncStatus{Initialized: o.engine.Initialized()}
	if !status.Initialized {
		return status, nil
	}

	var err error
	if status.Branch, err = o.engine.Branch(); err != nil {
		return nil, o.report("status", err)
	}
	if status.Branches, err = o.engine.Branches(); err != nil {
		return nil, o.report("status", err)
	}
	if status.RemoteBranches, err = o.engine.RemoteBranches(); err != nil {
		return nil, o.report("status", err)
	}
	if status.HeadCommit, err = o.engine.Head(); err != nil {
		return nil, o.report("status", err)
	}
	return status, nil
}
