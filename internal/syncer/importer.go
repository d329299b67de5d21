package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/store"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
)

// Importer mirrors the checked-out working tree into the local document
// database: every JSON document file becomes a workspace entity row, and
// rows whose files vanished are removed. All writes go through the buffer,
// so observers see the whole tree or none of it.
type Importer struct {
	writer store.Writer
	logger *slog.Logger
}

func NewImporter(w store.Writer, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{writer: w, logger: logger}
}

// documentHead is the loosely-parsed envelope of a workspace document file.
type documentHead struct {
	ID       string `json:"_id"`
	ParentID string `json:"parentId"`
	Type     string `json:"_type"`
	Name     string `json:"name"`
}

// Import walks fs and upserts one document row per JSON file, then deletes
// rows for paths no longer in the tree.
func (im *Importer) Import(ctx context.Context, workspaceID string, fs billy.Filesystem) error {
	var keep []string

	err := util.Walk(fs, "/", func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if name == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".json") {
			return nil
		}

		rel := strings.TrimPrefix(filePath, "/")
		body, err := util.ReadFile(fs, filePath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}

		doc := documentFromFile(workspaceID, rel, body)
		if err := im.writer.UpsertDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", rel, err)
		}
		keep = append(keep, rel)
		return nil
	})
	if err != nil {
		return err
	}

	if err := im.writer.DeleteDocumentsExcept(ctx, workspaceID, keep); err != nil {
		return fmt.Errorf("failed to prune stale documents: %w", err)
	}
	im.logger.Debug("Imported working tree", "workspace", workspaceID, "documents", len(keep))
	return nil
}

// documentFromFile builds the row for one tree file. Files that do not parse
// as a document envelope are still imported; kind falls back to the top
// directory name and the id to a stable hash of the path.
func documentFromFile(workspaceID, rel string, body []byte) *api.Document {
	var head documentHead
	_ = json.Unmarshal(body, &head)

	id := head.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(workspaceID+"/"+rel)).String()
	}

	kind := head.Type
	if kind == "" {
		if idx := strings.Index(rel, "/"); idx > 0 {
			kind = rel[:idx]
		}
	}

	name := head.Name
	if name == "" {
		name = strings.TrimSuffix(path.Base(rel), ".json")
	}

	return &api.Document{
		ID:          id,
		WorkspaceID: workspaceID,
		ParentID:    head.ParentID,
		Path:        rel,
		Kind:        kind,
		Name:        name,
		Body:        string(body),
	}
}
