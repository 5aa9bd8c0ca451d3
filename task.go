package imagecache

import (
	"context"
	"sync/atomic"
)

// Task is one in-flight fetch. Tasks are created by the manager, which
// outlives every task it issues; a task reaching any terminal state is
// removed from the manager's active set exactly once.
type Task struct {
	id      uint64
	locator string
	preload bool

	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool
	done      atomic.Bool
}

// ID is the task's sentinel. Ids increase monotonically per manager.
func (t *Task) ID() uint64 { return t.id }

// Locator is the resource the task is fetching.
func (t *Task) Locator() string { return t.locator }

// Cancel marks the task cancelled and aborts any in-flight download.
// The pipeline notices the flag at its next stage boundary; a
// cancelled task never invokes its completion callback. Cancel is
// idempotent.
func (t *Task) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	t.cancel()
}

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// finish marks the task terminal. It reports true exactly once.
func (t *Task) finish() bool {
	return t.done.CompareAndSwap(false, true)
}
