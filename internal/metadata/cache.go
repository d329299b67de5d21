// Package metadata maintains the per-workspace projection of sync engine
// state (branch, last author, last commit time) so callers can render
// workspace lists without querying the engine on every paint.
package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/store"
)

// EngineState is the slice of the sync engine the cache reads.
type EngineState interface {
	Initialized() bool
	Branch() (string, error)
	Log() ([]api.CommitInfo, error)
}

// Cache refreshes persisted workspace metadata after every engine state
// change. Reads go to the store directly; writes go through the writer so
// they participate in any open transaction buffer.
type Cache struct {
	store  store.Store
	writer store.Writer
	logger *slog.Logger
}

func NewCache(s store.Store, w store.Writer, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: s, writer: w, logger: logger}
}

// Refresh recomputes the cached record for workspaceID from engine state.
// An unconfigured repository clears all fields to null; stale values from an
// old repository must never survive disconnection. The write is skipped when
// nothing differs from the stored record.
func (c *Cache) Refresh(ctx context.Context, workspaceID string, engine EngineState) error {
	current, err := c.store.GetWorkspaceMeta(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace metadata: %w", err)
	}

	want := &api.WorkspaceMeta{WorkspaceID: workspaceID}
	if engine != nil && engine.Initialized() {
		branch, err := engine.Branch()
		if err != nil {
			return err
		}
		want.CachedBranch = &branch

		log, err := engine.Log()
		if err != nil {
			return err
		}
		if len(log) > 0 {
			author := log[0].Author
			at := log[0].AuthoredAt
			want.CachedLastAuthor = &author
			want.CachedLastCommitTime = &at
		}
	}

	if metaEqual(current, want) {
		return nil
	}

	if err := c.writer.UpsertWorkspaceMeta(ctx, want); err != nil {
		return fmt.Errorf("failed to write workspace metadata: %w", err)
	}
	c.logger.Debug("Refreshed workspace metadata", "workspace", workspaceID,
		"branch", strOrNull(want.CachedBranch), "author", strOrNull(want.CachedLastAuthor))
	return nil
}

func metaEqual(a, b *api.WorkspaceMeta) bool {
	return strPtrEqual(a.CachedBranch, b.CachedBranch) &&
		strPtrEqual(a.CachedLastAuthor, b.CachedLastAuthor) &&
		int64PtrEqual(a.CachedLastCommitTime, b.CachedLastCommitTime)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strOrNull(v *string) string {
	if v == nil {
		return "<null>"
	}
	return *v
}
