package gitvcs

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Merge three-way merges branch into the current branch, advancing the
// current branch pointer to a new commit with two parents {previous head,
// branch head}. The working tree is NOT updated; callers materialize the
// result with an explicit Checkout afterwards. Returns the resulting head
// commit id; when branch is already merged the current head id is returned
// and no commit is created.
//
// Conflicts are detected at file granularity: a path edited on both sides to
// different content fails the whole merge with *MergeConflictError and the
// branch pointer stays where it was.
func (e *Engine) Merge(branch string) (string, error) {
	if err := e.guard(); err != nil {
		return "", err
	}

	headRef, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", &PreconditionError{Reason: "cannot merge into a branch with no commits"}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	current := headRef.Name().Short()
	if branch == current {
		return "", &PreconditionError{Reason: fmt.Sprintf("cannot merge %q into itself", branch)}
	}

	theirsHash, err := e.resolveBranchHash(branch)
	if err != nil {
		return "", err
	}

	ours, err := e.repo.CommitObject(headRef.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to load head commit: %w", err)
	}
	theirs, err := e.repo.CommitObject(theirsHash)
	if err != nil {
		return "", fmt.Errorf("failed to load commit for %q: %w", branch, err)
	}

	if theirs.Hash == ours.Hash {
		return ours.Hash.String(), nil
	}
	if merged, err := theirs.IsAncestor(ours); err != nil {
		return "", fmt.Errorf("failed to compare histories: %w", err)
	} else if merged {
		return ours.Hash.String(), nil
	}

	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return "", fmt.Errorf("failed to find merge base: %w", err)
	}
	if len(bases) == 0 {
		return "", &PreconditionError{Reason: fmt.Sprintf("branches %q and %q share no history", current, branch)}
	}

	treeHash, conflicts, err := e.mergeTrees(bases[0], ours, theirs)
	if err != nil {
		return "", err
	}
	if len(conflicts) > 0 {
		return "", &MergeConflictError{Ours: current, Theirs: branch, Paths: conflicts}
	}

	mergeCommit := &object.Commit{
		Author:       e.signature(),
		Committer:    e.signature(),
		Message:      fmt.Sprintf("Merge branch '%s' into %s", branch, current),
		TreeHash:     treeHash,
		ParentHashes: []plumbing.Hash{ours.Hash, theirs.Hash},
	}
	obj := e.repo.Storer.NewEncodedObject()
	if err := mergeCommit.Encode(obj); err != nil {
		return "", fmt.Errorf("failed to encode merge commit: %w", err)
	}
	hash, err := e.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("failed to store merge commit: %w", err)
	}

	if err := e.repo.Storer.SetReference(plumbing.NewHashReference(headRef.Name(), hash)); err != nil {
		return "", fmt.Errorf("failed to advance %q: %w", current, err)
	}
	e.logger.Info("Merged branch", "from", branch, "into", current, "commit", hash.String())
	return hash.String(), nil
}

// resolveBranchHash resolves a local branch first, then the remote mirror.
func (e *Engine) resolveBranchHash(branch string) (plumbing.Hash, error) {
	ref, err := e.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err == nil {
		return ref.Hash(), nil
	}
	ref, err = e.repo.Reference(plumbing.NewRemoteReferenceName(e.remoteName, branch), true)
	if err == nil {
		return ref.Hash(), nil
	}
	return plumbing.ZeroHash, &PreconditionError{Reason: fmt.Sprintf("branch %q does not exist locally or on %s", branch, e.remoteName)}
}

type treeEntry struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// mergeTrees builds the merged tree object for base/ours/theirs and returns
// its hash plus any conflicted paths.
func (e *Engine) mergeTrees(base, ours, theirs *object.Commit) (plumbing.Hash, []string, error) {
	baseFiles, err := flattenCommitTree(base)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	ourFiles, err := flattenCommitTree(ours)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	theirFiles, err := flattenCommitTree(theirs)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	paths := make(map[string]struct{})
	for p := range baseFiles {
		paths[p] = struct{}{}
	}
	for p := range ourFiles {
		paths[p] = struct{}{}
	}
	for p := range theirFiles {
		paths[p] = struct{}{}
	}

	merged := make(map[string]treeEntry)
	var conflicts []string
	for p := range paths {
		b, o, t := baseFiles[p], ourFiles[p], theirFiles[p]
		oursChanged := o != b
		theirsChanged := t != b

		var pick treeEntry
		switch {
		case oursChanged && theirsChanged && o != t:
			conflicts = append(conflicts, p)
			continue
		case theirsChanged:
			pick = t
		default:
			pick = o
		}
		if pick != (treeEntry{}) {
			merged[p] = pick
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return plumbing.ZeroHash, conflicts, nil
	}

	hash, err := writeTree(e.repo.Storer, buildTreeNodes(merged))
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return hash, nil, nil
}

// flattenCommitTree maps every file path in the commit's tree to its blob
// hash and mode.
func flattenCommitTree(c *object.Commit) (map[string]treeEntry, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree for %s: %w", c.Hash.String(), err)
	}

	files := make(map[string]treeEntry)
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree for %s: %w", c.Hash.String(), err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		files[name] = treeEntry{hash: entry.Hash, mode: entry.Mode}
	}
	return files, nil
}

type treeNode struct {
	files map[string]treeEntry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{
		files: make(map[string]treeEntry),
		dirs:  make(map[string]*treeNode),
	}
}

func buildTreeNodes(files map[string]treeEntry) *treeNode {
	root := newTreeNode()
	for path, entry := range files {
		node := root
		segments := strings.Split(path, "/")
		for _, dir := range segments[:len(segments)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newTreeNode()
				node.dirs[dir] = child
			}
			node = child
		}
		node.files[segments[len(segments)-1]] = entry
	}
	return root
}

// writeTree stores the node and its subtrees, returning the root tree hash.
func writeTree(st storer.EncodedObjectStorer, node *treeNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(node.files)+len(node.dirs))
	for name, entry := range node.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: entry.mode, Hash: entry.hash})
	}
	for name, child := range node.dirs {
		hash, err := writeTree(st, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	// Canonical git tree order: byte-wise on name, directories compared as
	// if the name had a trailing slash.
	sort.Slice(entries, func(i, j int) bool {
		return treeEntrySortName(entries[i]) < treeEntrySortName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := st.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	hash, err := st.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}
	return hash, nil
}

func treeEntrySortName(entry object.TreeEntry) string {
	if entry.Mode == filemode.Dir {
		return entry.Name + "/"
	}
	return entry.Name
}
