// Package dispatcher implements the background pairing loop spec §4.5
// describes: peek the ready queue head, find a capable idle worker,
// hand it off. It generalizes the teacher's two abandoned
// Dispatcher.Run sketches (internal/dispatcher/dispatcher.go and
// internal/server/dispatcher/dispatcher.go) — both built around a
// recommendation-specific block-partitioning Run() that never got
// past a TODO stub in one case — into the single task-pairing loop
// the spec actually needs.
package dispatcher

import (
	"context"
	"time"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
	"taskdispatch/internal/workerhandle"
)

const tickInterval = 100 * time.Millisecond

// Worker is the subset of workerhandle.Handle the dispatcher needs.
type Worker interface {
	registry.Handle
	IsIdle() bool
	CanHandle(kind task.Kind) bool
	SendTask(t *task.Task) error
}

// Dispatcher is the single long-running pairing loop.
type Dispatcher struct {
	readyQueue *queue.FIFO
	deadLetter *queue.FIFO
	registry   *registry.Registry
	store      persistence.Store
	log        *logging.Logger
	metrics    *metrics.Collector
}

// New constructs a Dispatcher over the given collaborators.
func New(readyQueue, deadLetter *queue.FIFO, reg *registry.Registry, store persistence.Store, log *logging.Logger, mc *metrics.Collector) *Dispatcher {
	return &Dispatcher{readyQueue: readyQueue, deadLetter: deadLetter, registry: reg, store: store, log: log, metrics: mc}
}

// Run blocks, ticking until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick performs one pass of spec §4.5 steps 1-4, possibly pairing zero
// or one task with a worker, or draining one unroutable head.
func (d *Dispatcher) tick() {
	for {
		head := d.readyQueue.Peek()
		if head == nil {
			return
		}

		worker, anyRegistered := d.findIdleCapable(head.Kind)
		if worker != nil {
			t, ok := d.readyQueue.TryDequeueIf(head.ID)
			if !ok {
				// Head moved under us; resume from the top (spec §4.5 step 3).
				continue
			}
			if err := worker.SendTask(t); err != nil {
				d.log.Error("dispatch %s to %s failed: %v", t.ID, worker.ID(), err)
			}
			return
		}

		if !anyRegistered {
			t, ok := d.readyQueue.TryDequeueIf(head.ID)
			if !ok {
				continue
			}
			// Unrouted dead-lettering does not increment retry_count; it
			// is a routing failure, not a worker failure (spec §4.5 step 4).
			t.Status = task.StatusDeadLetter
			t.StatusUpdatedAt = time.Now()
			t.DeadLetterReason = task.ReasonNoCapableWorker
			if err := d.store.Save(context.Background(), t, task.StatusDeadLetter); err != nil {
				d.log.Warn("persist unroutable dead-letter %s: %v", t.ID, err)
			}
			d.deadLetter.Push(t)
			d.metrics.RecordDeadLetter()
			d.log.Warn("task %s unroutable (no worker claims kind %s), dead-lettered", t.ID, t.Kind)
			return
		}

		// Workers exist for this kind but all are Busy; wait for the next tick.
		return
	}
}

// findIdleCapable scans the registry for the first Idle worker able to
// handle kind, per spec §4.5 step 2 ("a straightforward first-match scan
// over the registry is acceptable"). anyRegistered reports whether any
// worker at all (idle or busy) declares capability for kind, which the
// caller uses to decide between "wait" and "dead-letter as unroutable".
func (d *Dispatcher) findIdleCapable(kind task.Kind) (worker Worker, anyRegistered bool) {
	d.registry.Range(func(h registry.Handle) bool {
		w, ok := h.(Worker)
		if !ok || !w.CanHandle(kind) {
			return true
		}
		anyRegistered = true
		if w.IsIdle() {
			worker = w
			return false
		}
		return true
	})
	return worker, anyRegistered
}

var _ Worker = (*workerhandle.Handle)(nil)
