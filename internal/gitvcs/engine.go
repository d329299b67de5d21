package gitvcs

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
)

const (
	// DefaultRemote is the remote name every engine tracks.
	DefaultRemote = "origin"

	// DefaultBranch is used when initializing a fresh object store.
	DefaultBranch = "main"
)

// Storage is an explicitly owned object-store handle: the git object/ref
// database plus the filesystem the working tree materializes into. Swappable
// between an in-memory store (throwaway verification) and an on-disk one.
type Storage struct {
	Storer   storage.Storer
	Worktree billy.Filesystem
}

// NewMemoryStorage returns a throwaway in-memory object store.
func NewMemoryStorage() Storage {
	return Storage{
		Storer:   memory.NewStorage(),
		Worktree: memfs.New(),
	}
}

// NewFilesystemStorage returns a persistent object store rooted at dir, with
// the working tree materialized alongside it.
func NewFilesystemStorage(dir string) Storage {
	dotgit := osfs.New(filepath.Join(dir, git.GitDirName))
	return Storage{
		Storer:   filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault()),
		Worktree: osfs.New(dir),
	}
}

// Options configure an engine instance. One engine per repository; the
// storage handle is owned by the engine once passed in.
type Options struct {
	Storage       Storage
	RemoteURL     string
	RemoteName    string // defaults to DefaultRemote
	DefaultBranch string // defaults to DefaultBranch
	AuthorName    string
	AuthorEmail   string
	Logger        *slog.Logger
}

// Engine wraps a git repository and keeps the working tree consistent with
// the checked-out branch. All operations return typed errors from the closed
// set in errors.go.
type Engine struct {
	repo        *git.Repository
	wt          *git.Worktree
	fs          billy.Filesystem
	remoteName  string
	remoteURL   string
	branchInit  string
	authorName  string
	authorEmail string
	logger      *slog.Logger
}

// NewEngine binds a repository to the given storage, initializing a fresh
// object store when none exists. It never touches the network.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Storage.Storer == nil || opts.Storage.Worktree == nil {
		return nil, fmt.Errorf("engine storage is required")
	}
	if opts.RemoteName == "" {
		opts.RemoteName = DefaultRemote
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	repo, err := git.Open(opts.Storage.Storer, opts.Storage.Worktree)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.InitWithOptions(opts.Storage.Storer, opts.Storage.Worktree, git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(opts.DefaultBranch),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	if opts.RemoteURL != "" {
		if _, err := repo.Remote(opts.RemoteName); errors.Is(err, git.ErrRemoteNotFound) {
			_, err = repo.CreateRemote(&config.RemoteConfig{
				Name: opts.RemoteName,
				URLs: []string{opts.RemoteURL},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to configure remote: %w", err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to read remote config: %w", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open working tree: %w", err)
	}

	return &Engine{
		repo:        repo,
		wt:          wt,
		fs:          opts.Storage.Worktree,
		remoteName:  opts.RemoteName,
		remoteURL:   opts.RemoteURL,
		branchInit:  opts.DefaultBranch,
		authorName:  opts.AuthorName,
		authorEmail: opts.AuthorEmail,
		logger:      opts.Logger,
	}, nil
}

// Initialized reports whether a repository is bound and its object store
// open. It is the caller's guard before any other operation and is valid on
// a nil engine.
func (e *Engine) Initialized() bool {
	return e != nil && e.repo != nil
}

func (e *Engine) guard() error {
	if !e.Initialized() {
		return ErrUninitialized
	}
	return nil
}

// WorktreeFS exposes the filesystem the working tree is materialized into.
// Callers use it to mirror tree content into local storage after checkout.
func (e *Engine) WorktreeFS() (billy.Filesystem, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.fs, nil
}

// Branch returns the short name of the currently checked-out branch. It
// works on an empty repository, where HEAD points at an unborn branch.
func (e *Engine) Branch() (string, error) {
	if err := e.guard(); err != nil {
		return "", err
	}
	head, err := e.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference {
		return "", &PreconditionError{Reason: "HEAD is detached"}
	}
	return head.Target().Short(), nil
}

// Head returns the current head commit id, or the empty string when the
// repository has no commits yet.
func (e *Engine) Head() (string, error) {
	if err := e.guard(); err != nil {
		return "", err
	}
	ref, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Log returns commit history newest first. An empty repository yields an
// empty sequence, not an error. Author time is surfaced in epoch millis.
func (e *Engine) Log() ([]api.CommitInfo, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	head, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []api.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	iter, err := e.repo.Log(&git.LogOptions{
		From:  head.Hash(),
		Order: git.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	var entries []api.CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		parents := make([]string, 0, c.NumParents())
		for _, p := range c.ParentHashes {
			parents = append(parents, p.String())
		}
		entries = append(entries, api.CommitInfo{
			Hash:        c.Hash.String(),
			Parents:     parents,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			AuthoredAt:  c.Author.When.UnixMilli(),
			Message:     c.Message,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk history: %w", err)
	}
	if entries == nil {
		entries = []api.CommitInfo{}
	}
	return entries, nil
}

// CommitAll stages every working-tree change and commits it, returning the
// new commit id.
func (e *Engine) CommitAll(message string) (string, error) {
	if err := e.guard(); err != nil {
		return "", err
	}

	if err := e.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	hash, err := e.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  e.authorName,
			Email: e.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

func (e *Engine) signature() object.Signature {
	return object.Signature{
		Name:  e.authorName,
		Email: e.authorEmail,
		When:  time.Now(),
	}
}

func sortedShortNames(names []string) []string {
	sort.Strings(names)
	return names
}
