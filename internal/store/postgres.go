package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs server deployments where several daemon replicas share
// one database. The desktop-style default is SQLite.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL UNIQUE,
			remote_url TEXT NOT NULL,
			auth_method TEXT NOT NULL DEFAULT 'public',
			provider TEXT NOT NULL DEFAULT 'other',
			branch TEXT,
			author_name TEXT,
			author_email TEXT,
			created_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS repo_credentials (
			repository_id TEXT PRIMARY KEY REFERENCES repositories(id) ON DELETE CASCADE,
			secret_ciphertext BYTEA NOT NULL,
			secret_nonce BYTEA NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workspace_meta (
			workspace_id TEXT PRIMARY KEY,
			cached_branch TEXT,
			cached_last_author TEXT,
			cached_last_commit_time BIGINT
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			kind TEXT,
			name TEXT,
			body TEXT,
			updated_at TIMESTAMPTZ,
			UNIQUE(workspace_id, path)
		);`,
	}
	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateRepository(ctx context.Context, repo *api.Repository) error {
	query := `
	INSERT INTO repositories (id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query, repo.ID, repo.WorkspaceID, repo.RemoteURL, repo.AuthMethod, repo.Provider, repo.Branch, repo.AuthorName, repo.AuthorEmail, repo.CreatedAt)
	return err
}

func (s *PostgresStore) GetRepositoryByWorkspace(ctx context.Context, workspaceID string) (*api.Repository, error) {
	query := `SELECT id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at FROM repositories WHERE workspace_id = $1`
	row := s.pool.QueryRow(ctx, query, workspaceID)

	var repo api.Repository
	err := row.Scan(&repo.ID, &repo.WorkspaceID, &repo.RemoteURL, &repo.AuthMethod, &repo.Provider, &repo.Branch, &repo.AuthorName, &repo.AuthorEmail, &repo.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context) ([]*api.Repository, error) {
	query := `SELECT id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at FROM repositories`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*api.Repository
	for rows.Next() {
		var repo api.Repository
		if err := rows.Scan(&repo.ID, &repo.WorkspaceID, &repo.RemoteURL, &repo.AuthMethod, &repo.Provider, &repo.Branch, &repo.AuthorName, &repo.AuthorEmail, &repo.CreatedAt); err != nil {
			return nil, err
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

func (s *PostgresStore) DeleteRepository(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRepositoryNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error {
	query := `
	INSERT INTO repo_credentials (repository_id, secret_ciphertext, secret_nonce)
	VALUES ($1, $2, $3)
	ON CONFLICT (repository_id) DO UPDATE SET
		secret_ciphertext = excluded.secret_ciphertext,
		secret_nonce = excluded.secret_nonce
	`
	_, err := s.pool.Exec(ctx, query, credential.RepositoryID, credential.SecretCiphertext, credential.SecretNonce)
	return err
}

func (s *PostgresStore) GetRepoCredential(ctx context.Context, repositoryID string) (*RepoCredential, error) {
	query := `SELECT repository_id, secret_ciphertext, secret_nonce FROM repo_credentials WHERE repository_id = $1`
	row := s.pool.QueryRow(ctx, query, repositoryID)

	credential := &RepoCredential{}
	if err := row.Scan(&credential.RepositoryID, &credential.SecretCiphertext, &credential.SecretNonce); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return credential, nil
}

func (s *PostgresStore) DeleteRepoCredential(ctx context.Context, repositoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repo_credentials WHERE repository_id = $1`, repositoryID)
	return err
}

func (s *PostgresStore) GetWorkspaceMeta(ctx context.Context, workspaceID string) (*api.WorkspaceMeta, error) {
	query := `SELECT workspace_id, cached_branch, cached_last_author, cached_last_commit_time FROM workspace_meta WHERE workspace_id = $1`
	row := s.pool.QueryRow(ctx, query, workspaceID)

	meta := &api.WorkspaceMeta{}
	err := row.Scan(&meta.WorkspaceID, &meta.CachedBranch, &meta.CachedLastAuthor, &meta.CachedLastCommitTime)
	if errors.Is(err, pgx.ErrNoRows) {
		meta = &api.WorkspaceMeta{WorkspaceID: workspaceID}
		if _, err := s.pool.Exec(ctx, `INSERT INTO workspace_meta (workspace_id) VALUES ($1) ON CONFLICT DO NOTHING`, workspaceID); err != nil {
			return nil, err
		}
		return meta, nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *PostgresStore) UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error {
	query := `
	INSERT INTO workspace_meta (workspace_id, cached_branch, cached_last_author, cached_last_commit_time)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (workspace_id) DO UPDATE SET
		cached_branch = excluded.cached_branch,
		cached_last_author = excluded.cached_last_author,
		cached_last_commit_time = excluded.cached_last_commit_time
	`
	_, err := s.pool.Exec(ctx, query, meta.WorkspaceID, meta.CachedBranch, meta.CachedLastAuthor, meta.CachedLastCommitTime)
	return err
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *api.Document) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	query := `
	INSERT INTO documents (id, workspace_id, parent_id, path, kind, name, body, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (workspace_id, path) DO UPDATE SET
		parent_id = excluded.parent_id,
		kind = excluded.kind,
		name = excluded.name,
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	_, err := s.pool.Exec(ctx, query, doc.ID, doc.WorkspaceID, doc.ParentID, doc.Path, doc.Kind, doc.Name, doc.Body, doc.UpdatedAt)
	return err
}

func (s *PostgresStore) DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error {
	if len(keepPaths) == 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1`, workspaceID)
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1 AND path != ALL($2)`, workspaceID, keepPaths)
	return err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, workspaceID string) ([]*api.Document, error) {
	query := `SELECT id, workspace_id, parent_id, path, kind, name, body, updated_at FROM documents WHERE workspace_id = $1 ORDER BY path`
	rows, err := s.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*api.Document
	for rows.Next() {
		var doc api.Document
		if err := rows.Scan(&doc.ID, &doc.WorkspaceID, &doc.ParentID, &doc.Path, &doc.Kind, &doc.Name, &doc.Body, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// pgTxWriter routes the buffered write set through one transaction.
type pgTxWriter struct {
	tx pgx.Tx
}

func (w *pgTxWriter) UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error {
	query := `
	INSERT INTO workspace_meta (workspace_id, cached_branch, cached_last_author, cached_last_commit_time)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (workspace_id) DO UPDATE SET
		cached_branch = excluded.cached_branch,
		cached_last_author = excluded.cached_last_author,
		cached_last_commit_time = excluded.cached_last_commit_time
	`
	_, err := w.tx.Exec(ctx, query, meta.WorkspaceID, meta.CachedBranch, meta.CachedLastAuthor, meta.CachedLastCommitTime)
	return err
}

func (w *pgTxWriter) UpsertDocument(ctx context.Context, doc *api.Document) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	query := `
	INSERT INTO documents (id, workspace_id, parent_id, path, kind, name, body, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (workspace_id, path) DO UPDATE SET
		parent_id = excluded.parent_id,
		kind = excluded.kind,
		name = excluded.name,
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	_, err := w.tx.Exec(ctx, query, doc.ID, doc.WorkspaceID, doc.ParentID, doc.Path, doc.Kind, doc.Name, doc.Body, doc.UpdatedAt)
	return err
}

func (w *pgTxWriter) DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error {
	if len(keepPaths) == 0 {
		_, err := w.tx.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1`, workspaceID)
		return err
	}
	_, err := w.tx.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1 AND path != ALL($2)`, workspaceID, keepPaths)
	return err
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(w Writer) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTxWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
