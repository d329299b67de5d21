package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitsync/gitsync/internal/api"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func testRepository(workspaceID string) *api.Repository {
	return &api.Repository{
		ID:          "repo-" + workspaceID,
		WorkspaceID: workspaceID,
		RemoteURL:   "https://example.com/org/project.git",
		AuthMethod:  "token",
		Provider:    "github",
		Branch:      "main",
		AuthorName:  "Test Author",
		AuthorEmail: "test@example.com",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	repo := testRepository("ws-1")
	require.NoError(t, s.CreateRepository(ctx, repo))

	t.Run("get by workspace", func(t *testing.T) {
		got, err := s.GetRepositoryByWorkspace(ctx, "ws-1")
		require.NoError(t, err)
		assert.Equal(t, repo.ID, got.ID)
		assert.Equal(t, repo.RemoteURL, got.RemoteURL)
		assert.Equal(t, repo.AuthMethod, got.AuthMethod)
		assert.Equal(t, repo.Provider, got.Provider)
	})

	t.Run("missing workspace", func(t *testing.T) {
		_, err := s.GetRepositoryByWorkspace(ctx, "ws-missing")
		assert.ErrorIs(t, err, ErrRepositoryNotFound)
	})

	t.Run("duplicate workspace rejected", func(t *testing.T) {
		dup := testRepository("ws-1")
		dup.ID = "repo-other"
		assert.Error(t, s.CreateRepository(ctx, dup))
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, s.CreateRepository(ctx, testRepository("ws-2")))
		repos, err := s.ListRepositories(ctx)
		require.NoError(t, err)
		assert.Len(t, repos, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteRepository(ctx, repo.ID))
		_, err := s.GetRepositoryByWorkspace(ctx, "ws-1")
		assert.ErrorIs(t, err, ErrRepositoryNotFound)

		assert.ErrorIs(t, s.DeleteRepository(ctx, repo.ID), ErrRepositoryNotFound)
	})
}

func TestRepoCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	repo := testRepository("ws-1")
	require.NoError(t, s.CreateRepository(ctx, repo))

	credential := &RepoCredential{
		RepositoryID:     repo.ID,
		SecretCiphertext: []byte("ciphertext"),
		SecretNonce:      []byte("nonce"),
	}
	require.NoError(t, s.UpsertRepoCredential(ctx, credential))

	got, err := s.GetRepoCredential(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.SecretCiphertext, got.SecretCiphertext)
	assert.Equal(t, credential.SecretNonce, got.SecretNonce)

	t.Run("upsert replaces", func(t *testing.T) {
		credential.SecretCiphertext = []byte("rotated")
		require.NoError(t, s.UpsertRepoCredential(ctx, credential))

		got, err := s.GetRepoCredential(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("rotated"), got.SecretCiphertext)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetRepoCredential(ctx, "repo-missing")
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("deleted with repository", func(t *testing.T) {
		require.NoError(t, s.DeleteRepository(ctx, repo.ID))
		_, err := s.GetRepoCredential(ctx, repo.ID)
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})
}

func TestGetWorkspaceMetaCreatesRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	meta, err := s.GetWorkspaceMeta(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", meta.WorkspaceID)
	assert.Nil(t, meta.CachedBranch)
	assert.Nil(t, meta.CachedLastAuthor)
	assert.Nil(t, meta.CachedLastCommitTime)

	branch := "main"
	author := "Test Author"
	when := time.Now().UnixMilli()
	require.NoError(t, s.UpsertWorkspaceMeta(ctx, &api.WorkspaceMeta{
		WorkspaceID:          "ws-1",
		CachedBranch:         &branch,
		CachedLastAuthor:     &author,
		CachedLastCommitTime: &when,
	}))

	meta, err = s.GetWorkspaceMeta(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, meta.CachedBranch)
	assert.Equal(t, "main", *meta.CachedBranch)
	require.NotNil(t, meta.CachedLastCommitTime)
	assert.Equal(t, when, *meta.CachedLastCommitTime)

	t.Run("upsert back to null clears cache", func(t *testing.T) {
		require.NoError(t, s.UpsertWorkspaceMeta(ctx, &api.WorkspaceMeta{WorkspaceID: "ws-1"}))

		meta, err := s.GetWorkspaceMeta(ctx, "ws-1")
		require.NoError(t, err)
		assert.Nil(t, meta.CachedBranch)
	})
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docs := []*api.Document{
		{ID: "d1", WorkspaceID: "ws-1", Path: "requests/a.json", Kind: "request", Name: "a", Body: `{"name":"a"}`},
		{ID: "d2", WorkspaceID: "ws-1", Path: "requests/b.json", Kind: "request", Name: "b", Body: `{"name":"b"}`},
		{ID: "d3", WorkspaceID: "ws-2", Path: "requests/a.json", Kind: "request", Name: "a", Body: `{}`},
	}
	for _, doc := range docs {
		require.NoError(t, s.UpsertDocument(ctx, doc))
	}

	t.Run("list scoped to workspace", func(t *testing.T) {
		got, err := s.ListDocuments(ctx, "ws-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "requests/a.json", got[0].Path)
		assert.Equal(t, "requests/b.json", got[1].Path)
	})

	t.Run("upsert by workspace and path", func(t *testing.T) {
		require.NoError(t, s.UpsertDocument(ctx, &api.Document{
			ID: "d1", WorkspaceID: "ws-1", Path: "requests/a.json", Kind: "request", Name: "a-renamed", Body: `{"name":"a2"}`,
		}))

		got, err := s.ListDocuments(ctx, "ws-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a-renamed", got[0].Name)
	})

	t.Run("prune keeps named paths", func(t *testing.T) {
		require.NoError(t, s.DeleteDocumentsExcept(ctx, "ws-1", []string{"requests/b.json"}))

		got, err := s.ListDocuments(ctx, "ws-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "requests/b.json", got[0].Path)

		// Other workspaces are untouched.
		other, err := s.ListDocuments(ctx, "ws-2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})

	t.Run("prune with empty keep list clears workspace", func(t *testing.T) {
		require.NoError(t, s.DeleteDocumentsExcept(ctx, "ws-1", nil))

		got, err := s.ListDocuments(ctx, "ws-1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RunInTx(ctx, func(w Writer) error {
		if err := w.UpsertDocument(ctx, &api.Document{
			ID: "d1", WorkspaceID: "ws-1", Path: "a.json", Kind: "request", Name: "a", Body: "{}",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	docs, err := s.ListDocuments(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	branch := "main"
	err := s.RunInTx(ctx, func(w Writer) error {
		if err := w.UpsertDocument(ctx, &api.Document{
			ID: "d1", WorkspaceID: "ws-1", Path: "a.json", Kind: "request", Name: "a", Body: "{}",
		}); err != nil {
			return err
		}
		return w.UpsertWorkspaceMeta(ctx, &api.WorkspaceMeta{WorkspaceID: "ws-1", CachedBranch: &branch})
	})
	require.NoError(t, err)

	docs, err := s.ListDocuments(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	meta, err := s.GetWorkspaceMeta(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, meta.CachedBranch)
	assert.Equal(t, "main", *meta.CachedBranch)
}
