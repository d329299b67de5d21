package store

import (
	"context"
	"errors"

	"github.com/gitsync/gitsync/internal/api"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrCredentialNotFound = errors.New("repo credential not found")
)

// Writer is the buffered subset of the store: the writes checkout and merge
// produce in bulk. The transaction buffer queues these and replays them
// inside RunInTx so observers never see a partially applied tree.
type Writer interface {
	UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error
	UpsertDocument(ctx context.Context, doc *api.Document) error
	DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error
}

// Store defines the interface for data persistence.
type Store interface {
	Writer

	CreateRepository(ctx context.Context, repo *api.Repository) error
	GetRepositoryByWorkspace(ctx context.Context, workspaceID string) (*api.Repository, error)
	ListRepositories(ctx context.Context) ([]*api.Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error
	GetRepoCredential(ctx context.Context, repositoryID string) (*RepoCredential, error)
	DeleteRepoCredential(ctx context.Context, repositoryID string) error

	// GetWorkspaceMeta creates an all-null record when none exists yet.
	GetWorkspaceMeta(ctx context.Context, workspaceID string) (*api.WorkspaceMeta, error)

	ListDocuments(ctx context.Context, workspaceID string) ([]*api.Document, error)

	// RunInTx applies fn's writes atomically in a single transaction.
	RunInTx(ctx context.Context, fn func(w Writer) error) error

	Close()
}

// RepoCredential stores encrypted repository secrets (access token or deploy
// key) at rest.
type RepoCredential struct {
	RepositoryID     string
	SecretCiphertext []byte
	SecretNonce      []byte
}
