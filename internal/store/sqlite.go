package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gitsync/gitsync/internal/api"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx so the write helpers can
// run directly or inside RunInTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore initializes the SQLite database and creates necessary tables.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

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
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS repo_credentials (
			repository_id TEXT PRIMARY KEY,
			secret_ciphertext BLOB NOT NULL,
			secret_nonce BLOB NOT NULL,
			FOREIGN KEY(repository_id) REFERENCES repositories(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS workspace_meta (
			workspace_id TEXT PRIMARY KEY,
			cached_branch TEXT,
			cached_last_author TEXT,
			cached_last_commit_time INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			kind TEXT,
			name TEXT,
			body TEXT,
			updated_at DATETIME,
			UNIQUE(workspace_id, path)
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, repo *api.Repository) error {
	query := `
	INSERT INTO repositories (id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		repo.ID,
		repo.WorkspaceID,
		repo.RemoteURL,
		repo.AuthMethod,
		repo.Provider,
		repo.Branch,
		repo.AuthorName,
		repo.AuthorEmail,
		repo.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetRepositoryByWorkspace(ctx context.Context, workspaceID string) (*api.Repository, error) {
	query := `SELECT id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at FROM repositories WHERE workspace_id = ?`
	row := s.db.QueryRowContext(ctx, query, workspaceID)

	var repo api.Repository
	err := row.Scan(&repo.ID, &repo.WorkspaceID, &repo.RemoteURL, &repo.AuthMethod, &repo.Provider, &repo.Branch, &repo.AuthorName, &repo.AuthorEmail, &repo.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*api.Repository, error) {
	query := `SELECT id, workspace_id, remote_url, auth_method, provider, branch, author_name, author_email, created_at FROM repositories`
	rows, err := s.db.QueryContext(ctx, query)
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

func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repo_credentials WHERE repository_id = ?`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRepositoryNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error {
	query := `
	INSERT INTO repo_credentials (repository_id, secret_ciphertext, secret_nonce)
	VALUES (?, ?, ?)
	ON CONFLICT(repository_id) DO UPDATE SET
		secret_ciphertext = excluded.secret_ciphertext,
		secret_nonce = excluded.secret_nonce
	`
	_, err := s.db.ExecContext(ctx, query, credential.RepositoryID, credential.SecretCiphertext, credential.SecretNonce)
	return err
}

func (s *SQLiteStore) GetRepoCredential(ctx context.Context, repositoryID string) (*RepoCredential, error) {
	query := `SELECT repository_id, secret_ciphertext, secret_nonce FROM repo_credentials WHERE repository_id = ?`
	row := s.db.QueryRowContext(ctx, query, repositoryID)

	credential := &RepoCredential{}
	if err := row.Scan(&credential.RepositoryID, &credential.SecretCiphertext, &credential.SecretNonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return credential, nil
}

func (s *SQLiteStore) DeleteRepoCredential(ctx context.Context, repositoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repo_credentials WHERE repository_id = ?`, repositoryID)
	return err
}

func (s *SQLiteStore) GetWorkspaceMeta(ctx context.Context, workspaceID string) (*api.WorkspaceMeta, error) {
	return sqliteGetWorkspaceMeta(ctx, s.db, workspaceID)
}

func sqliteGetWorkspaceMeta(ctx context.Context, e execer, workspaceID string) (*api.WorkspaceMeta, error) {
	query := `SELECT workspace_id, cached_branch, cached_last_author, cached_last_commit_time FROM workspace_meta WHERE workspace_id = ?`
	row := e.QueryRowContext(ctx, query, workspaceID)

	meta := &api.WorkspaceMeta{}
	err := row.Scan(&meta.WorkspaceID, &meta.CachedBranch, &meta.CachedLastAuthor, &meta.CachedLastCommitTime)
	if errors.Is(err, sql.ErrNoRows) {
		meta = &api.WorkspaceMeta{WorkspaceID: workspaceID}
		if _, err := e.ExecContext(ctx, `INSERT INTO workspace_meta (workspace_id) VALUES (?)`, workspaceID); err != nil {
			return nil, err
		}
		return meta, nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *SQLiteStore) UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error {
	return sqliteUpsertWorkspaceMeta(ctx, s.db, meta)
}

func sqliteUpsertWorkspaceMeta(ctx context.Context, e execer, meta *api.WorkspaceMeta) error {
	query := `
	INSERT INTO workspace_meta (workspace_id, cached_branch, cached_last_author, cached_last_commit_time)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(workspace_id) DO UPDATE SET
		cached_branch = excluded.cached_branch,
		cached_last_author = excluded.cached_last_author,
		cached_last_commit_time = excluded.cached_last_commit_time
	`
	_, err := e.ExecContext(ctx, query, meta.WorkspaceID, meta.CachedBranch, meta.CachedLastAuthor, meta.CachedLastCommitTime)
	return err
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *api.Document) error {
	return sqliteUpsertDocument(ctx, s.db, doc)
}

func sqliteUpsertDocument(ctx context.Context, e execer, doc *api.Document) error {
	query := `
	INSERT INTO documents (id, workspace_id, parent_id, path, kind, name, body, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(workspace_id, path) DO UPDATE SET
		parent_id = excluded.parent_id,
		kind = excluded.kind,
		name = excluded.name,
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	_, err := e.ExecContext(ctx, query, doc.ID, doc.WorkspaceID, doc.ParentID, doc.Path, doc.Kind, doc.Name, doc.Body, doc.UpdatedAt)
	return err
}

func (s *SQLiteStore) DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error {
	return sqliteDeleteDocumentsExcept(ctx, s.db, workspaceID, keepPaths)
}

func sqliteDeleteDocumentsExcept(ctx context.Context, e execer, workspaceID string, keepPaths []string) error {
	if len(keepPaths) == 0 {
		_, err := e.ExecContext(ctx, `DELETE FROM documents WHERE workspace_id = ?`, workspaceID)
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepPaths)), ",")
	query := fmt.Sprintf(`DELETE FROM documents WHERE workspace_id = ? AND path NOT IN (%s)`, placeholders)
	args := make([]any, 0, len(keepPaths)+1)
	args = append(args, workspaceID)
	for _, p := range keepPaths {
		args = append(args, p)
	}
	_, err := e.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, workspaceID string) ([]*api.Document, error) {
	query := `SELECT id, workspace_id, parent_id, path, kind, name, body, updated_at FROM documents WHERE workspace_id = ? ORDER BY path`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
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

// sqliteTxWriter routes the buffered write set through one transaction.
type sqliteTxWriter struct {
	tx *sql.Tx
}

func (w *sqliteTxWriter) UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error {
	return sqliteUpsertWorkspaceMeta(ctx, w.tx, meta)
}

func (w *sqliteTxWriter) UpsertDocument(ctx context.Context, doc *api.Document) error {
	return sqliteUpsertDocument(ctx, w.tx, doc)
}

func (w *sqliteTxWriter) DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error {
	return sqliteDeleteDocumentsExcept(ctx, w.tx, workspaceID, keepPaths)
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(w Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqliteTxWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}
