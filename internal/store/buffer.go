package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gitsync/gitsync/internal/api"
)

// BufferID identifies an open buffer scope. Every Begin must be balanced by
// exactly one Flush of the returned id; scopes from independent actions may
// close in any order.
type BufferID uint64

type bufferedOp func(ctx context.Context, w Writer) error

// TxBuffer defers document and metadata writes so bulk changes triggered by
// checkout and merge become visible atomically. While at least one scope is
// open, writes through the buffer are queued; they are applied in a single
// store transaction when the last open scope flushes. An observer reading
// the store between Begin and the final Flush never sees a partially
// applied checkout.
//
// TxBuffer implements Writer, so it can stand in for the store on every
// write path that must respect buffering.
type TxBuffer struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	open   map[BufferID]struct{}
	seq    BufferID
	ops    []bufferedOp
	notify bool
	subs   []func()
}

func NewTxBuffer(s Store, logger *slog.Logger) *TxBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxBuffer{store: s, logger: logger, open: make(map[BufferID]struct{})}
}

// Subscribe registers a change-notification callback, invoked after a flush
// requested with notify (checkout changed the working tree) and never for
// pure network operations.
func (b *TxBuffer) Subscribe(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Begin opens a buffer scope. Scopes nest and may interleave across
// independent actions; queued effects become visible only when the last open
// scope flushes.
func (b *TxBuffer) Begin() BufferID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.open[b.seq] = struct{}{}
	return b.seq
}

// Flush closes the given scope. Closing the last open scope applies every
// queued write in one transaction and, when any closed scope asked for it,
// notifies subscribers. Flush must be called on every exit path, success or
// error, so the store never stays buffered indefinitely.
func (b *TxBuffer) Flush(ctx context.Context, id BufferID, notify bool) error {
	b.mu.Lock()
	if _, ok := b.open[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("flush of buffer scope %d which is not open", id)
	}
	delete(b.open, id)
	b.notify = b.notify || notify
	if len(b.open) > 0 {
		b.mu.Unlock()
		return nil
	}

	ops := b.ops
	doNotify := b.notify
	b.ops = nil
	b.notify = false
	subs := make([]func(), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if len(ops) > 0 {
		err := b.store.RunInTx(ctx, func(w Writer) error {
			for _, op := range ops {
				if err := op(ctx, w); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to flush buffered writes: %w", err)
		}
		b.logger.Debug("Flushed buffered writes", "ops", len(ops), "notify", doNotify)
	}

	if doNotify {
		for _, fn := range subs {
			fn()
		}
	}
	return nil
}

// queue records op when a scope is open and reports whether it did.
func (b *TxBuffer) queue(op bufferedOp) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.open) == 0 {
		return false
	}
	b.ops = append(b.ops, op)
	return true
}

func (b *TxBuffer) UpsertWorkspaceMeta(ctx context.Context, meta *api.WorkspaceMeta) error {
	if b.queue(func(ctx context.Context, w Writer) error {
		return w.UpsertWorkspaceMeta(ctx, meta)
	}) {
		return nil
	}
	return b.store.UpsertWorkspaceMeta(ctx, meta)
}

func (b *TxBuffer) UpsertDocument(ctx context.Context, doc *api.Document) error {
	if b.queue(func(ctx context.Context, w Writer) error {
		return w.UpsertDocument(ctx, doc)
	}) {
		return nil
	}
	return b.store.UpsertDocument(ctx, doc)
}

func (b *TxBuffer) DeleteDocumentsExcept(ctx context.Context, workspaceID string, keepPaths []string) error {
	if b.queue(func(ctx context.Context, w Writer) error {
		return w.DeleteDocumentsExcept(ctx, workspaceID, keepPaths)
	}) {
		return nil
	}
	return b.store.DeleteDocumentsExcept(ctx, workspaceID, keepPaths)
}
