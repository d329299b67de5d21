package gitvcs

import (
	"context"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Route file:// URLs through the in-process server so network tests need no
// git binary.
func init() {
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
}

// newBareRemote creates an empty bare repository on disk and returns its
// file:// URL.
func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return "file://" + dir
}

// cloneEngine builds a fresh engine tracking remoteURL with the remote's main
// branch checked out.
func cloneEngine(t *testing.T, remoteURL string) *Engine {
	t.Helper()
	engine := newTestEngine(t, remoteURL)
	require.NoError(t, engine.Fetch(context.Background(), nil, true, 0))
	require.NoError(t, engine.Checkout("main"))
	return engine
}

func TestCanPush(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)
	engine := newTestEngine(t, remoteURL)

	t.Run("empty repository has nothing to push", func(t *testing.T) {
		can, err := engine.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.False(t, can)
	})

	t.Run("unpushed commit is pushable", func(t *testing.T) {
		commitFile(t, engine, "a.json", "{}", "Initial")
		can, err := engine.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.True(t, can)
	})

	t.Run("push makes heads equal", func(t *testing.T) {
		require.NoError(t, engine.Push(ctx, nil, false))
		can, err := engine.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.False(t, can)
	})

	t.Run("new commit is pushable again", func(t *testing.T) {
		commitFile(t, engine, "b.json", "{}", "Second")
		can, err := engine.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.True(t, can)
	})
}

func TestPushEmptyRepository(t *testing.T) {
	engine := newTestEngine(t, newBareRemote(t))

	err := engine.Push(context.Background(), nil, false)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestPushRejectedOnDivergedRemote(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)

	first := newTestEngine(t, remoteURL)
	commitFile(t, first, "a.json", "{}", "Initial")
	require.NoError(t, first.Push(ctx, nil, false))

	second := cloneEngine(t, remoteURL)
	commitFile(t, second, "b.json", "{}", "Second writer")
	require.NoError(t, second.Push(ctx, nil, false))

	// first never saw the second writer's commit.
	commitFile(t, first, "c.json", "{}", "Conflicting commit")

	err := first.Push(ctx, nil, false)
	var rejected *PushRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "main", rejected.Branch)

	t.Run("force push overwrites remote head", func(t *testing.T) {
		require.NoError(t, first.Push(ctx, nil, true))

		can, err := first.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.False(t, can)

		// The second writer's head is now behind a rewritten remote.
		can, err = second.CanPush(ctx, nil)
		require.NoError(t, err)
		assert.True(t, can)
	})
}

func TestPullFastForward(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)

	writer := newTestEngine(t, remoteURL)
	commitFile(t, writer, "a.json", `{"v":1}`, "Initial")
	require.NoError(t, writer.Push(ctx, nil, false))

	reader := cloneEngine(t, remoteURL)
	assert.Equal(t, `{"v":1}`, readWorktreeFile(t, reader, "a.json"))

	commitFile(t, writer, "a.json", `{"v":2}`, "Update")
	require.NoError(t, writer.Push(ctx, nil, false))

	require.NoError(t, reader.Pull(ctx, nil))
	assert.Equal(t, `{"v":2}`, readWorktreeFile(t, reader, "a.json"))

	writerHead, err := writer.Head()
	require.NoError(t, err)
	readerHead, err := reader.Head()
	require.NoError(t, err)
	assert.Equal(t, writerHead, readerHead)
}

func TestPullAlreadyUpToDate(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)

	writer := newTestEngine(t, remoteURL)
	commitFile(t, writer, "a.json", "{}", "Initial")
	require.NoError(t, writer.Push(ctx, nil, false))

	reader := cloneEngine(t, remoteURL)
	require.NoError(t, reader.Pull(ctx, nil))
}

func TestFetchUpdatesRemoteMirrors(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)

	writer := newTestEngine(t, remoteURL)
	head := commitFile(t, writer, "a.json", "{}", "Initial")
	require.NoError(t, writer.Push(ctx, nil, false))

	createBranchAt(t, writer, "feature", head)
	require.NoError(t, writer.Checkout("feature"))
	commitFile(t, writer, "b.json", "{}", "Feature work")
	require.NoError(t, writer.Push(ctx, nil, false))

	reader := newTestEngine(t, remoteURL)
	require.NoError(t, reader.Fetch(ctx, nil, true, 0))

	mirrors, err := reader.RemoteBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "main"}, mirrors)

	// Fetch never moves local branches.
	localHead, err := reader.Head()
	require.NoError(t, err)
	assert.Empty(t, localHead)
}

func TestCheckoutRemoteOnlyBranchCreatesTracking(t *testing.T) {
	ctx := context.Background()
	remoteURL := newBareRemote(t)

	writer := newTestEngine(t, remoteURL)
	commitFile(t, writer, "a.json", `{"branch":"feature"}`, "Feature work")
	// Push the default branch under a different name.
	createBranchAt(t, writer, "feature", mustHead(t, writer))
	require.NoError(t, writer.Checkout("feature"))
	require.NoError(t, writer.Push(ctx, nil, false))

	reader := newTestEngine(t, remoteURL)
	require.NoError(t, reader.Fetch(ctx, nil, true, 0))
	require.NoError(t, reader.Checkout("feature"))

	branch, err := reader.Branch()
	require.NoError(t, err)
	assert.Equal(t, "feature", branch)
	assert.Equal(t, `{"branch":"feature"}`, readWorktreeFile(t, reader, "a.json"))

	branches, err := reader.Branches()
	require.NoError(t, err)
	assert.Contains(t, branches, "feature")
}

func TestVerifyRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("empty remote is valid", func(t *testing.T) {
		require.NoError(t, VerifyRemote(ctx, newBareRemote(t), nil))
	})

	t.Run("populated remote is valid", func(t *testing.T) {
		remoteURL := newBareRemote(t)
		writer := newTestEngine(t, remoteURL)
		commitFile(t, writer, "a.json", "{}", "Initial")
		require.NoError(t, writer.Push(ctx, nil, false))

		require.NoError(t, VerifyRemote(ctx, remoteURL, nil))
	})

	t.Run("missing remote fails", func(t *testing.T) {
		err := VerifyRemote(ctx, "file:///definitely/not/a/repo", nil)
		var network *NetworkError
		require.ErrorAs(t, err, &network)
	})
}

func mustHead(t *testing.T, e *Engine) string {
	t.Helper()
	head, err := e.Head()
	require.NoError(t, err)
	return head
}
