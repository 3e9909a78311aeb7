// Package queue implements the two FIFO containers spec §4.3 calls for:
// a ready queue of Pending tasks and a dead-letter queue. Both need peek
// (without removal) and a conditional try-dequeue so the dispatcher can
// re-validate the head hasn't moved before claiming it (spec §4.5 step 3).
// A plain mutex-guarded slice fits that access pattern better than a
// channel, which the teacher's worker_pool.go-style code uses for
// fire-and-forget task submission but not for peek semantics.
package queue

import (
	"sync"

	"taskdispatch/internal/task"
)

// FIFO is a thread-safe, unbounded first-in-first-out container of tasks.
type FIFO struct {
	mu    sync.Mutex
	items []*task.Task
}

// New returns an empty FIFO.
func New() *FIFO {
	return &FIFO{}
}

// Push appends a task to the tail.
func (q *FIFO) Push(t *task.Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// Peek returns the head task without removing it, or nil if empty.
func (q *FIFO) Peek() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// TryDequeueIf removes and returns the head task only if it is still the
// same task (by id) as expected, reporting false if the head moved or the
// queue emptied out from under the caller between Peek and this call.
// This is the compare-and-remove the dispatcher needs per spec §4.5 step 3.
func (q *FIFO) TryDequeueIf(expectedID string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != expectedID {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// TryDequeue unconditionally removes and returns the head task, or
// nil, false if the queue is empty. Unlike TryDequeueIf it does not check
// the head's id; the console's dead-letter commands use DrainAll instead.
func (q *FIFO) TryDequeue() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Len reports the current depth.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a shallow copy of the current contents, oldest first.
func (q *FIFO) Snapshot() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Task, len(q.items))
	copy(out, q.items)
	return out
}

// DrainAll removes and returns every item currently queued, leaving the
// queue empty. Used by the operator's clear-deadletter command.
func (q *FIFO) DrainAll() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
