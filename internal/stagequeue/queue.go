// Package stagequeue implements the three ordered stages an item passes
// through on its way to disk: intake, pending and download. Each queue is a
// key-to-record map guarded by one mutex+condition pair, with insertion order
// preserved for FIFO pops and an in-place claim protocol on the download
// stage.
package stagequeue

import (
	"sync"
	"time"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

// Queue is a mutex-and-condition guarded map from item key to item record.
// Push wakes all blocked poppers; losers re-check the predicate and re-block.
type Queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	items  map[string]*media.Item
	order  []string
	closed bool
}

// New returns an empty queue. The name is used only for logging.
func New(name string) *Queue {
	q := &Queue{
		name:  name,
		items: make(map[string]*media.Item),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// Push inserts or replaces the record under key and wakes blocked poppers.
// Replacing keeps the key's original position in the pop order.
func (q *Queue) Push(key string, item *media.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.items[key]; !exists {
		q.order = append(q.order, key)
	}
	q.items[key] = item
	q.cond.Broadcast()
}

// Requeue puts a record back after a failed processing attempt. It behaves
// exactly like Push; the separate name documents the caller's intent on
// failure paths.
func (q *Queue) Requeue(key string, item *media.Item) {
	q.Push(key, item)
}

// Pop removes and returns the first record in insertion order. When the queue
// is empty: a non-blocking call returns ("", nil) immediately; a blocking call
// waits until a record arrives, the queue closes, or timeout elapses (timeout
// <= 0 waits forever). The deadline is computed once at entry so repeated
// re-waits after spurious wakeups stay timeout-accurate.
func (q *Queue) Pop(block bool, timeout time.Duration) (string, *media.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.waitNonEmpty(block, timeout) {
		return "", nil
	}

	key := q.order[0]
	q.order = q.order[1:]
	item := q.items[key]
	delete(q.items, key)
	return key, item
}

// Claim returns the first runnable record, flipping its available flag to
// false under the queue mutex so no two workers can claim the same key. A
// record is runnable when it is available and still Waiting: claimed, terminal
// and cancelled records are skipped so a finished record at the head of the
// order cannot starve the records behind it. The record stays in the queue.
// Blocking/timeout behavior on an empty queue matches Pop; if records exist
// but none is runnable, Claim returns nil immediately and callers are expected
// to poll.
func (q *Queue) Claim(block bool, timeout time.Duration) (string, *media.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.waitNonEmpty(block, timeout) {
		return "", nil
	}

	for _, key := range q.order {
		item := q.items[key]
		if !item.Available || item.Status != media.StatusWaiting {
			continue
		}
		item.Available = false
		return key, item.Clone()
	}
	return "", nil
}

// Release restores the available flag so the record is visible to other
// claimants and the retry sweeper again. Claimants must call this on every
// exit path, success or failure, or the record is stuck forever.
func (q *Queue) Release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[key]; ok {
		item.Available = true
		q.cond.Broadcast()
	}
}

// waitNonEmpty blocks until the queue has at least one record. It reports
// false when the caller should give up: non-blocking empty read, timeout
// expiry, or queue closed while empty. Must be called with q.mu held.
func (q *Queue) waitNonEmpty(block bool, timeout time.Duration) bool {
	if len(q.order) > 0 {
		return true
	}
	if !block {
		return false
	}

	timed := timeout > 0
	var deadline time.Time
	if timed {
		deadline = time.Now().Add(timeout)
	}

	for len(q.order) == 0 {
		if q.closed {
			return false
		}
		if timed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false
			}
			// sync.Cond has no timed wait; arm a one-shot broadcast so the
			// wait below cannot outlive the deadline.
			timer := time.AfterFunc(remaining, q.cond.Broadcast)
			q.cond.Wait()
			timer.Stop()
		} else {
			q.cond.Wait()
		}
	}
	return true
}

// Len returns the current number of records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get returns a snapshot of the record under key.
func (q *Queue) Get(key string) (*media.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[key]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// List returns snapshots of all records in insertion order.
func (q *Queue) List() []*media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*media.Item, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.items[key].Clone())
	}
	return out
}

// Drain removes every record and returns how many were dropped. The bulk
// cancel uses it to stop the upstream stages from refilling the download
// stage.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.order)
	q.items = make(map[string]*media.Item)
	q.order = nil
	return dropped
}

// Status returns the record's current status. Used by download workers for
// cancellation checks at chunk boundaries.
func (q *Queue) Status(key string) (media.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[key]
	if !ok {
		return "", false
	}
	return item.Status, true
}

// SetStatus updates the record's status in place.
func (q *Queue) SetStatus(key string, status media.Status) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[key]
	if !ok {
		return false
	}
	item.Status = status
	return true
}

// SetProgress updates the record's progress percentage in place.
func (q *Queue) SetProgress(key string, progress float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[key]; ok {
		item.Progress = progress
	}
}

// SetFilePath records where the item's final file landed.
func (q *Queue) SetFilePath(key, path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[key]; ok {
		item.FilePath = path
	}
}

// ResetRetryable moves Failed and Cancelled records back to Waiting and
// returns how many were reset. The available flag is left as-is.
func (q *Queue) ResetRetryable() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	reset := 0
	for _, item := range q.items {
		if item.Status.Retryable() {
			item.Status = media.StatusWaiting
			reset++
		}
	}
	if reset > 0 {
		q.cond.Broadcast()
	}
	return reset
}

// CancelWaiting marks every Waiting record Cancelled and returns the count.
func (q *Queue) CancelWaiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancelled := 0
	for _, item := range q.items {
		if item.Status == media.StatusWaiting {
			item.Status = media.StatusCancelled
			cancelled++
		}
	}
	return cancelled
}

// PruneFinished removes Downloaded, Cancelled, Unavailable and Deleted
// records, returning how many were dropped. Failed records stay so they remain
// eligible for retry.
func (q *Queue) PruneFinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	pruned := 0
	for _, key := range q.order {
		status := q.items[key].Status
		if status.Terminal() || status == media.StatusCancelled {
			delete(q.items, key)
			pruned++
			continue
		}
		kept = append(kept, key)
	}
	q.order = kept
	return pruned
}

// Close wakes all blocked poppers; subsequent blocking pops on an empty queue
// return immediately. Records already queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
