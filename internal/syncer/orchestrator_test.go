package syncer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/gitvcs"
	"github.com/gitsync/gitsync/internal/metadata"
	"github.com/gitsync/gitsync/internal/store"
)

// fakeEngine scripts engine behavior and records the operations invoked.
type fakeEngine struct {
	fs       billy.Filesystem
	branch   string
	branches []string
	mirrors  []string
	head     string
	log      []api.CommitInfo

	canPush     bool
	canPushErr  error
	checkoutErr error
	mergeErr    error
	pushErr     error
	pullErr     error
	fetchErr    error

	calls []string
}

func (f *fakeEngine) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeEngine) Initialized() bool                 { return true }
func (f *fakeEngine) Branch() (string, error)           { return f.branch, nil }
func (f *fakeEngine) Branches() ([]string, error)       { return f.branches, nil }
func (f *fakeEngine) RemoteBranches() ([]string, error) { return f.mirrors, nil }
func (f *fakeEngine) Log() ([]api.CommitInfo, error)    { return f.log, nil }
func (f *fakeEngine) Head() (string, error)             { return f.head, nil }

func (f *fakeEngine) Checkout(branch string) error {
	f.record("checkout " + branch)
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	f.branch = branch
	return nil
}

func (f *fakeEngine) Merge(branch string) (string, error) {
	f.record("merge " + branch)
	if f.mergeErr != nil {
		return "", f.mergeErr
	}
	return "merged-hash", nil
}

func (f *fakeEngine) CommitAll(message string) (string, error) {
	f.record("commit")
	return "commit-hash", nil
}

func (f *fakeEngine) DeleteBranch(branch string) error {
	f.record("delete " + branch)
	return nil
}

func (f *fakeEngine) CanPush(ctx context.Context, auth transport.AuthMethod) (bool, error) {
	f.record("canpush")
	return f.canPush, f.canPushErr
}

func (f *fakeEngine) Push(ctx context.Context, auth transport.AuthMethod, force bool) error {
	f.record("push")
	return f.pushErr
}

func (f *fakeEngine) Pull(ctx context.Context, auth transport.AuthMethod) error {
	f.record("pull")
	return f.pullErr
}

func (f *fakeEngine) Fetch(ctx context.Context, auth transport.AuthMethod, allBranches bool, depth int) error {
	f.record("fetch")
	return f.fetchErr
}

func (f *fakeEngine) WorktreeFS() (billy.Filesystem, error) { return f.fs, nil }

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "requests/login.json",
		[]byte(`{"_id":"req_1","_type":"request","name":"Login"}`), 0o644))
	require.NoError(t, util.WriteFile(fs, "environments/prod.json",
		[]byte(`{"_id":"env_1","_type":"environment","name":"Prod"}`), 0o644))

	return &fakeEngine{
		fs:       fs,
		branch:   "main",
		branches: []string{"main"},
		head:     "head-hash",
		log: []api.CommitInfo{
			{Hash: "head-hash", Author: "Alice", AuthoredAt: 1700000000000, Message: "Initial"},
		},
	}
}

type fixture struct {
	orchestrator *Orchestrator
	engine       *fakeEngine
	store        store.Store
	buffer       *store.TxBuffer
	notified     *int
}

func newFixture(t *testing.T, engine *fakeEngine) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	buffer := store.NewTxBuffer(s, logger)
	notified := 0
	buffer.Subscribe(func() { notified++ })

	orchestrator := New(Config{
		WorkspaceID: "ws-1",
		Engine:      engine,
		Buffer:      buffer,
		Cache:       metadata.NewCache(s, buffer, logger),
		Importer:    NewImporter(buffer, logger),
		Logger:      logger,
	})
	return &fixture{
		orchestrator: orchestrator,
		engine:       engine,
		store:        s,
		buffer:       buffer,
		notified:     &notified,
	}
}

func TestCheckoutImportsAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeEngine(t))

	require.Nil(t, f.orchestrator.Checkout(ctx, "main"))

	docs, err := f.store.ListDocuments(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "environments/prod.json", docs[0].Path)
	assert.Equal(t, "env_1", docs[0].ID)
	assert.Equal(t, "request", docs[1].Kind)

	assert.Equal(t, 1, *f.notified)

	meta, err := f.store.GetWorkspaceMeta(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, meta.CachedBranch)
	assert.Equal(t, "main", *meta.CachedBranch)
	require.NotNil(t, meta.CachedLastAuthor)
	assert.Equal(t, "Alice", *meta.CachedLastAuthor)
}

func TestCheckoutPrunesVanishedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeEngine(t))

	require.NoError(t, f.store.UpsertDocument(ctx, &api.Document{
		ID: "stale", WorkspaceID: "ws-1", Path: "requests/old.json", Kind: "request", Name: "old", Body: "{}",
	}))

	require.Nil(t, f.orchestrator.Checkout(ctx, "main"))

	docs, err := f.store.ListDocuments(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.NotEqual(t, "requests/old.json", doc.Path)
	}
}

func TestCheckoutFailureStillFlushesAndNotifies(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.checkoutErr = &gitvcs.PreconditionError{Reason: "branch does not exist"}
	f := newFixture(t, engine)

	syncErr := f.orchestrator.Checkout(ctx, "ghost")
	require.NotNil(t, syncErr)
	assert.Equal(t, CodePrecondition, syncErr.Code)
	assert.Equal(t, "checkout", syncErr.Op)

	// The buffer scope was closed on the error path: subscribers fired and a
	// follow-up operation is not stuck behind an open scope.
	assert.Equal(t, 1, *f.notified)

	engine.checkoutErr = nil
	require.Nil(t, f.orchestrator.Checkout(ctx, "main"))
	assert.Equal(t, 2, *f.notified)
}

func TestPushNothingToPush(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.canPush = false
	f := newFixture(t, engine)

	syncErr := f.orchestrator.Push(ctx, nil, false)
	require.NotNil(t, syncErr)
	assert.Equal(t, CodeNothingToPush, syncErr.Code)
	assert.NotContains(t, engine.calls, "push")
}

func TestPushRejectedReportsForceOption(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.canPush = true
	engine.pushErr = &gitvcs.PushRejectedError{Branch: "main"}
	f := newFixture(t, engine)

	syncErr := f.orchestrator.Push(ctx, nil, false)
	require.NotNil(t, syncErr)
	assert.Equal(t, CodePushRejected, syncErr.Code)
	assert.True(t, syncErr.CanForcePush)
}

func TestPushSuccess(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.canPush = true
	f := newFixture(t, engine)

	require.Nil(t, f.orchestrator.Push(ctx, nil, false))
	assert.Equal(t, []string{"canpush", "push"}, engine.calls)
	assert.Zero(t, *f.notified)
}

func TestPullNetworkErrorClassified(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.pullErr = &gitvcs.NetworkError{Op: "pull", Err: assert.AnError}
	f := newFixture(t, engine)

	syncErr := f.orchestrator.Pull(ctx, nil)
	require.NotNil(t, syncErr)
	assert.Equal(t, CodeNetwork, syncErr.Code)
}

func TestMergeMaterializesCurrentBranch(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	f := newFixture(t, engine)

	hash, syncErr := f.orchestrator.Merge(ctx, "feature")
	require.Nil(t, syncErr)
	assert.Equal(t, "merged-hash", hash)

	// Merge never touches the working tree itself; the orchestrator follows
	// up with a checkout of the current branch to materialize the result.
	assert.Equal(t, []string{"merge feature", "checkout main"}, engine.calls)
	assert.Equal(t, 1, *f.notified)

	docs, err := f.store.ListDocuments(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestMergeConflictSkipsCheckout(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	engine.mergeErr = &gitvcs.MergeConflictError{Ours: "main", Theirs: "feature", Paths: []string{"a.json"}}
	f := newFixture(t, engine)

	_, syncErr := f.orchestrator.Merge(ctx, "feature")
	require.NotNil(t, syncErr)
	assert.Equal(t, CodeMergeConflict, syncErr.Code)
	assert.Equal(t, []string{"merge feature"}, engine.calls)
	assert.Zero(t, *f.notified)
}

func TestRemoteCheckoutFetchesFirst(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	f := newFixture(t, engine)

	require.Nil(t, f.orchestrator.RemoteCheckout(ctx, "feature", nil))
	assert.Equal(t, []string{"fetch", "checkout feature"}, engine.calls)
}

func TestConcurrentOperationRefusedAsBusy(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	buffer := store.NewTxBuffer(s, logger)

	var reentrant *SyncError
	var orchestrator *Orchestrator
	orchestrator = New(Config{
		WorkspaceID: "ws-1",
		Engine:      engine,
		Buffer:      buffer,
		Cache:       metadata.NewCache(s, buffer, logger),
		Importer:    NewImporter(buffer, logger),
		// Reinit runs while checkout still holds the repository lock, so a
		// concurrent operation observes the busy state.
		Reinit: func(ctx context.Context) error {
			reentrant = orchestrator.Fetch(ctx, nil, true, 1)
			return nil
		},
		Logger: logger,
	})

	require.Nil(t, orchestrator.Checkout(ctx, "main"))
	require.NotNil(t, reentrant)
	assert.Equal(t, CodeBusy, reentrant.Code)
}

func TestCommitRefreshesCache(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(t)
	f := newFixture(t, engine)

	hash, syncErr := f.orchestrator.Commit(ctx, "Save changes")
	require.Nil(t, syncErr)
	assert.Equal(t, "commit-hash", hash)

	meta, err := f.store.GetWorkspaceMeta(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, meta.CachedBranch)
	assert.Equal(t, "main", *meta.CachedBranch)
}

func TestStatus(t *testing.T) {
	engine := newFakeEngine(t)
	engine.branches = []string{"feature", "main"}
	engine.mirrors = []string{"main"}
	f := newFixture(t, engine)

	status, syncErr := f.orchestrator.Status()
	require.Nil(t, syncErr)
	assert.True(t, status.Initialized)
	assert.Equal(t, "main", status.Branch)
	assert.Equal(t, []string{"feature", "main"}, status.Branches)
	assert.Equal(t, []string{"main"}, status.RemoteBranches)
	assert.Equal(t, "head-hash", status.HeadCommit)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"uninitialized", gitvcs.ErrUninitialized, CodeUninitialized},
		{"push rejected", &gitvcs.PushRejectedError{Branch: "main"}, CodePushRejected},
		{"merge conflict", &gitvcs.MergeConflictError{Paths: []string{"a"}}, CodeMergeConflict},
		{"network", &gitvcs.NetworkError{Op: "fetch", Err: assert.AnError}, CodeNetwork},
		{"precondition", &gitvcs.PreconditionError{Reason: "nope"}, CodePrecondition},
		{"unknown", assert.AnError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}
