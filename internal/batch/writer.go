// Package batch accumulates document writes and commits them in chunks no
// larger than the store's batch cap.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/budget-tracker/internal/store"
)

// Stats summarizes what a Writer has committed.
type Stats struct {
	// Ops is the number of operations committed.
	Ops int
	// Commits is the number of batch commits issued.
	Commits int
}

// Writer queues operations into a store batch and commits automatically
// whenever the batch reaches its cap. A Writer is not safe for concurrent
// use; each job run owns its own.
type Writer struct {
	batcher store.Batcher
	cap     int
	current store.Batch
	// onCommit holds the callbacks of the groups in current.
	onCommit []func()
	stats    Stats
}

// ErrGroupTooLarge is returned by EnqueueGroup for a group that cannot fit
// in a single batch.
var ErrGroupTooLarge = errors.New("write group exceeds batch cap")

// NewWriter creates a Writer committing at most store.MaxBatchOps per batch.
func NewWriter(b store.Batcher) *Writer {
	return NewWriterWithCap(b, store.MaxBatchOps)
}

// NewWriterWithCap creates a Writer with a custom cap. Values outside
// (0, store.MaxBatchOps] fall back to store.MaxBatchOps.
func NewWriterWithCap(b store.Batcher, cap int) *Writer {
	if cap <= 0 || cap > store.MaxBatchOps {
		cap = store.MaxBatchOps
	}
	return &Writer{batcher: b, cap: cap}
}

// Enqueue adds op to the current batch and flushes it if it is now full.
func (w *Writer) Enqueue(ctx context.Context, op store.Op) error {
	if w.current == nil {
		w.current = w.batcher.NewBatch()
	}
	w.current.Add(op)
	return w.FlushIfFull(ctx)
}

// EnqueueGroup adds ops so they land in the same batch, flushing the
// current batch first when they would not fit. onCommit, if not nil, runs
// once that batch has committed and is dropped if the commit fails.
func (w *Writer) EnqueueGroup(ctx context.Context, ops []store.Op, onCommit func()) error {
	if len(ops) > w.cap {
		return fmt.Errorf("EnqueueGroup: %d ops: %w", len(ops), ErrGroupTooLarge)
	}
	if w.current != nil && w.current.Len()+len(ops) > w.cap {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	if len(ops) == 0 {
		w.afterCommit(onCommit)
		return nil
	}

	if w.current == nil {
		w.current = w.batcher.NewBatch()
	}
	for _, op := range ops {
		w.current.Add(op)
	}
	if onCommit != nil {
		w.onCommit = append(w.onCommit, onCommit)
	}
	return w.FlushIfFull(ctx)
}

// afterCommit runs fn once everything queued so far has committed.
func (w *Writer) afterCommit(fn func()) {
	if fn == nil {
		return
	}
	if w.Pending() == 0 {
		fn()
		return
	}
	w.onCommit = append(w.onCommit, fn)
}

// FlushIfFull commits and resets the current batch once it holds cap
// operations.
func (w *Writer) FlushIfFull(ctx context.Context) error {
	if w.current == nil || w.current.Len() < w.cap {
		return nil
	}
	return w.flush(ctx)
}

// Commit commits whatever remains queued. It is a no-op when nothing is
// pending.
func (w *Writer) Commit(ctx context.Context) error {
	if w.current == nil || w.current.Len() == 0 {
		return nil
	}
	return w.flush(ctx)
}

// Pending returns the number of queued, uncommitted operations.
func (w *Writer) Pending() int {
	if w.current == nil {
		return 0
	}
	return w.current.Len()
}

// Stats returns the totals committed so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

func (w *Writer) flush(ctx context.Context) error {
	n := w.current.Len()
	if err := w.current.Commit(ctx); err != nil {
		w.onCommit = nil
		return fmt.Errorf("flush: committing batch of %d ops: %w", n, err)
	}
	w.stats.Ops += n
	w.stats.Commits++
	w.current = nil

	callbacks := w.onCommit
	w.onCommit = nil
	for _, fn := range callbacks {
		fn()
	}
	return nil
}
