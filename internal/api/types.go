package api

import "time"

// Repository is the sync configuration bound to a workspace. One repository
// binds to at most one workspace at a time; it is created when sync is
// configured and deleted when sync is disabled.
type Repository struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	RemoteURL   string    `json:"remote_url"`
	AuthMethod  string    `json:"auth_method"` // "public", "token", "deploy_key"
	Provider    string    `json:"provider"`    // "github", "gitlab", "other"
	Branch      string    `json:"branch"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommitInfo is a single entry of commit history as surfaced to callers.
// AuthoredAt is epoch milliseconds; git stores author time in seconds and the
// engine converts on the way out.
type CommitInfo struct {
	Hash        string   `json:"hash"`
	Parents     []string `json:"parents"`
	Author      string   `json:"author"`
	AuthorEmail string   `json:"author_email"`
	AuthoredAt  int64    `json:"authored_at"`
	Message     string   `json:"message"`
}

// WorkspaceMeta is the denormalized per-workspace projection of engine state,
// refreshed after every mutating operation. All three cached fields are nil
// when the workspace has no configured repository.
type WorkspaceMeta struct {
	WorkspaceID          string  `json:"workspace_id"`
	CachedBranch         *string `json:"cached_git_repository_branch"`
	CachedLastAuthor     *string `json:"cached_git_last_author"`
	CachedLastCommitTime *int64  `json:"cached_git_last_commit_time"` // epoch millis
}

// Document is a workspace entity (request, folder, environment) materialized
// from the checked-out tree into the local database.
type Document struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	ParentID    string    `json:"parent_id"`
	Path        string    `json:"path"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncStatus summarizes engine state for a workspace.
type SyncStatus struct {
	Initialized    bool     `json:"initialized"`
	Branch         string   `json:"branch,omitempty"`
	Branches       []string `json:"branches,omitempty"`
	RemoteBranches []string `json:"remote_branches,omitempty"`
	HeadCommit     string   `json:"head_commit,omitempty"`
	Provider       string   `json:"provider,omitempty"`
}

// BranchList pairs the local and remote branch names with the branch
// currently checked out.
type BranchList struct {
	Current        string   `json:"current,omitempty"`
	Branches       []string `json:"branches"`
	RemoteBranches []string `json:"remote_branches"`
}

// APIResponse is a standard wrapper for API responses.
type APIResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
