package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/credentials"
	"github.com/gitsync/gitsync/internal/gitvcs"
	"github.com/gitsync/gitsync/internal/metadata"
	"github.com/gitsync/gitsync/internal/repoauth"
	"github.com/gitsync/gitsync/internal/store"
	"github.com/gitsync/gitsync/internal/syncer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("workspace has no sync repository configured")

// repoState is the lifecycle of a bound repository.
type repoState int

const (
	stateInitializing repoState = iota
	stateReady
)

// Binding is the live binding of one workspace to one repository: the
// engine, its orchestrator, and the persisted config. Each binding owns its
// own transaction buffer so workspaces never interleave buffer scopes.
type Binding struct {
	Repo         *api.Repository
	Engine       *gitvcs.Engine
	Orchestrator *syncer.Orchestrator
	State        repoState

	buffer *store.TxBuffer
}

// Registry owns the workspace↔repository bindings and the per-repository
// engines. The store is shared; buffers, caches, and importers are one per
// binding so several repositories can sync concurrently.
type Registry struct {
	store       store.Store
	cache       *metadata.Cache // unbuffered, for clearing metadata outside any binding
	credentials *credentials.Service
	dataDir     string
	logger      *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*Binding // by workspace id
	subs     []func()
}

func NewRegistry(s store.Store, credentialService *credentials.Service, dataDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:       s,
		cache:       metadata.NewCache(s, s, logger),
		credentials: credentialService,
		dataDir:     dataDir,
		logger:      logger,
		bindings:    make(map[string]*Binding),
	}
}

// Subscribe registers a change-notification callback on every binding's
// buffer, current and future.
func (r *Registry) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	for _, binding := range r.bindings {
		if binding.buffer != nil {
			binding.buffer.Subscribe(fn)
		}
	}
}

// ConfigureInput is the "configure sync" request for a workspace.
type ConfigureInput struct {
	WorkspaceID string `json:"workspace_id"`
	RemoteURL   string `json:"remote_url"`
	AuthMethod  string `json:"auth_method"`
	Secret      string `json:"secret"`
	Branch      string `json:"branch"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
}

// Configure binds a repository to a workspace: validates the config,
// verifies the remote with a throwaway in-memory engine, persists the
// repository and its encrypted secret, and opens the persistent engine.
func (r *Registry) Configure(ctx context.Context, input ConfigureInput) (*api.Repository, error) {
	if strings.TrimSpace(input.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	method := repoauth.NormalizeMethod(input.AuthMethod)
	if method == "" {
		return nil, fmt.Errorf("unsupported repo auth method")
	}
	if err := repoauth.ValidateCreateInput(input.RemoteURL, method, input.Secret); err != nil {
		return nil, err
	}
	if method != repoauth.MethodPublic && (r.credentials == nil || !r.credentials.Enabled()) {
		return nil, fmt.Errorf("credential support is unavailable: set %s", credentials.EncryptionKeyEnv)
	}

	if _, err := r.store.GetRepositoryByWorkspace(ctx, input.WorkspaceID); err == nil {
		return nil, fmt.Errorf("workspace already has a sync repository")
	} else if !errors.Is(err, store.ErrRepositoryNotFound) {
		return nil, err
	}

	provider := credentials.ResolveProvider(input.RemoteURL)
	secret := []byte(input.Secret)
	if method == repoauth.MethodDeployKey {
		secret = []byte(repoauth.NormalizeDeployKey(input.Secret))
	}

	auth, err := repoauth.BuildAuth(method, provider, secret)
	if err != nil {
		return nil, err
	}
	if err := gitvcs.VerifyRemote(ctx, input.RemoteURL, auth); err != nil {
		return nil, fmt.Errorf("remote verification failed: %w", err)
	}

	branch := input.Branch
	if branch == "" {
		branch = gitvcs.DefaultBranch
	}
	repo := &api.Repository{
		ID:          uuid.NewString(),
		WorkspaceID: input.WorkspaceID,
		RemoteURL:   strings.TrimSpace(input.RemoteURL),
		AuthMethod:  method,
		Provider:    provider.String(),
		Branch:      branch,
		AuthorName:  input.AuthorName,
		AuthorEmail: input.AuthorEmail,
		CreatedAt:   time.Now(),
	}
	if err := r.store.CreateRepository(ctx, repo); err != nil {
		return nil, fmt.Errorf("failed to persist repository: %w", err)
	}

	if method != repoauth.MethodPublic {
		ciphertext, nonce, err := r.credentials.Encrypt(secret)
		if err != nil {
			return nil, err
		}
		err = r.store.UpsertRepoCredential(ctx, &store.RepoCredential{
			RepositoryID:     repo.ID,
			SecretCiphertext: ciphertext,
			SecretNonce:      nonce,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist credential: %w", err)
		}
	}

	if _, err := r.open(ctx, repo); err != nil {
		return nil, err
	}
	r.logger.Info("Configured sync repository", "workspace", repo.WorkspaceID, "repository", repo.ID, "provider", repo.Provider)
	return repo, nil
}

// open creates the persistent engine, the binding's own buffer, and the
// orchestrator for repo, then marks the binding ready.
func (r *Registry) open(ctx context.Context, repo *api.Repository) (*Binding, error) {
	binding := &Binding{Repo: repo, State: stateInitializing}
	r.mu.Lock()
	r.bindings[repo.WorkspaceID] = binding
	subs := make([]func(), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	engine, err := gitvcs.NewEngine(gitvcs.Options{
		Storage:       gitvcs.NewFilesystemStorage(r.repoDir(repo.ID)),
		RemoteURL:     repo.RemoteURL,
		DefaultBranch: repo.Branch,
		AuthorName:    repo.AuthorName,
		AuthorEmail:   repo.AuthorEmail,
		Logger:        r.logger,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.bindings, repo.WorkspaceID)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to open sync engine: %w", err)
	}

	buffer := store.NewTxBuffer(r.store, r.logger)
	for _, fn := range subs {
		buffer.Subscribe(fn)
	}
	cache := metadata.NewCache(r.store, buffer, r.logger)
	orch := syncer.New(syncer.Config{
		WorkspaceID: repo.WorkspaceID,
		Engine:      engine,
		Buffer:      buffer,
		Cache:       cache,
		Importer:    syncer.NewImporter(buffer, r.logger),
		Logger:      r.logger,
	})

	r.mu.Lock()
	binding.Engine = engine
	binding.Orchestrator = orch
	binding.buffer = buffer
	binding.State = stateReady
	r.mu.Unlock()

	if err := cache.Refresh(ctx, repo.WorkspaceID, engine); err != nil {
		return nil, err
	}
	return binding, nil
}

// repoDir is the on-disk object store location for one repository.
func (r *Registry) repoDir(repositoryID string) string {
	return filepath.Join(r.dataDir, "repos", repositoryID)
}

// Load rehydrates engines for every persisted repository. Called once at
// daemon startup.
func (r *Registry) Load(ctx context.Context) error {
	repos, err := r.store.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, repo := range repos {
		if _, err := r.open(ctx, repo); err != nil {
			r.logger.Error("Failed to reopen sync repository", "repository", repo.ID, "error", err)
		}
	}
	r.logger.Info("Loaded sync repositories", "count", len(repos))
	return nil
}

// Get returns the ready binding for a workspace.
func (r *Registry) Get(workspaceID string) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.bindings[workspaceID]
	if !ok {
		return nil, ErrNotConfigured
	}
	if binding.State != stateReady {
		return nil, fmt.Errorf("sync repository is still initializing")
	}
	return binding, nil
}

// AuthFor decrypts the repository secret and builds the transport auth for
// one network operation. The secret never leaves this call.
func (r *Registry) AuthFor(ctx context.Context, binding *Binding) (transport.AuthMethod, error) {
	repo := binding.Repo
	if repo.AuthMethod == repoauth.MethodPublic {
		return nil, nil
	}

	credential, err := r.store.GetRepoCredential(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	secret, err := r.credentials.Decrypt(credential.SecretCiphertext, credential.SecretNonce)
	if err != nil {
		return nil, err
	}
	return repoauth.BuildAuth(repo.AuthMethod, credentials.ResolveProvider(repo.RemoteURL), secret)
}

// Disable tears down sync for a workspace: the engine is dropped, the
// repository row, credentials, and local working copy are deleted, and the
// metadata cache is cleared so stale values from the old repository are
// never visible.
func (r *Registry) Disable(ctx context.Context, workspaceID string) error {
	r.mu.Lock()
	binding, wasOpen := r.bindings[workspaceID]
	delete(r.bindings, workspaceID)
	r.mu.Unlock()

	var repositoryID string
	if wasOpen {
		repositoryID = binding.Repo.ID
	}

	repo, err := r.store.GetRepositoryByWorkspace(ctx, workspaceID)
	switch {
	case errors.Is(err, store.ErrRepositoryNotFound):
		if !wasOpen {
			return ErrNotConfigured
		}
	case err != nil:
		return err
	default:
		repositoryID = repo.ID
		if err := r.store.DeleteRepository(ctx, repo.ID); err != nil && !errors.Is(err, store.ErrRepositoryNotFound) {
			return err
		}
	}

	if repositoryID != "" {
		if err := os.RemoveAll(r.repoDir(repositoryID)); err != nil {
			return fmt.Errorf("failed to remove local repository: %w", err)
		}
	}

	if err := r.cache.Refresh(ctx, workspaceID, nil); err != nil {
		return err
	}
	r.logger.Info("Disabled sync repository", "workspace", workspaceID, "repository", repositoryID)
	return nil
}
