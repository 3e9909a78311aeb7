// Package deadletter implements spec §4.7's two background monitors:
// a 30s dead-letter size-delta reporter that also emits aggregate
// statistics, and a 1h persistence cleanup sweep. Grounded on the
// teacher's monitoring.go (api-coordinator/internal/monitoring), which
// runs a similar periodic-snapshot-and-log pattern against Mongo/Redis;
// here the same shape drives the persistence.Store and in-memory
// queues instead.
package deadletter

import (
	"context"
	"time"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
)

const (
	// DeadLetterInterval is how often size deltas and stats are reported.
	DeadLetterInterval = 30 * time.Second
	// CleanupInterval is how often terminal records are pruned.
	CleanupInterval = 1 * time.Hour
	// RetentionWindow is how far back cleanup looks for eligible records.
	RetentionWindow = 7 * 24 * time.Hour
)

// Capable is the subset of workerhandle.Handle needed for capability
// coverage statistics.
type Capable interface {
	registry.Handle
	IsIdle() bool
	CanHandle(kind task.Kind) bool
}

// Monitor runs the dead-letter/statistics loop and the cleanup loop.
type Monitor struct {
	readyQueue *queue.FIFO
	deadLetter *queue.FIFO
	registry   *registry.Registry
	store      persistence.Store
	log        *logging.Logger
	metrics    *metrics.Collector

	deadLetterInterval time.Duration
	cleanupInterval    time.Duration
	retentionWindow    time.Duration

	lastDeadLetterLen int
}

// New constructs a Monitor over the given collaborators, using the
// spec's default intervals.
func New(readyQueue, deadLetter *queue.FIFO, reg *registry.Registry, store persistence.Store, log *logging.Logger, mc *metrics.Collector) *Monitor {
	return &Monitor{
		readyQueue: readyQueue, deadLetter: deadLetter, registry: reg, store: store, log: log, metrics: mc,
		deadLetterInterval: DeadLetterInterval, cleanupInterval: CleanupInterval, retentionWindow: RetentionWindow,
	}
}

// NewWithIntervals constructs a Monitor overriding the default
// dead-letter-report, cleanup, and retention intervals, e.g. from
// config.Config.Dispatch.
func NewWithIntervals(readyQueue, deadLetter *queue.FIFO, reg *registry.Registry, store persistence.Store, log *logging.Logger, mc *metrics.Collector, deadLetterInterval, cleanupInterval, retention time.Duration) *Monitor {
	m := New(readyQueue, deadLetter, reg, store, log, mc)
	if deadLetterInterval > 0 {
		m.deadLetterInterval = deadLetterInterval
	}
	if cleanupInterval > 0 {
		m.cleanupInterval = cleanupInterval
	}
	if retention > 0 {
		m.retentionWindow = retention
	}
	return m
}

// RunDeadLetterLoop blocks, reporting dead-letter size deltas and
// aggregate statistics every DeadLetterInterval until ctx is cancelled.
func (m *Monitor) RunDeadLetterLoop(ctx context.Context) {
	ticker := time.NewTicker(m.deadLetterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportDeadLetterDelta()
			m.reportAggregateStats()
		}
	}
}

// RunCleanupLoop blocks, pruning terminal records every CleanupInterval
// until ctx is cancelled.
func (m *Monitor) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Monitor) reportDeadLetterDelta() {
	current := m.deadLetter.Len()
	delta := current - m.lastDeadLetterLen
	if delta != 0 {
		m.log.Info("dead-letter queue size %d (%+d)", current, delta)
	}
	m.lastDeadLetterLen = current
}

func (m *Monitor) reportAggregateStats() {
	idle, busy := 0, 0
	coverage := make(map[task.Kind]int)
	m.registry.Range(func(h registry.Handle) bool {
		c, ok := h.(Capable)
		if !ok {
			return true
		}
		if c.IsIdle() {
			idle++
		} else {
			busy++
		}
		for _, kind := range []task.Kind{task.KindCheckPrime, task.KindHashText} {
			if c.CanHandle(kind) {
				coverage[kind]++
			}
		}
		return true
	})
	m.metrics.SetWorkerCounts(idle, busy)
	m.metrics.SetQueueDepths(m.readyQueue.Len(), m.deadLetter.Len())
	m.log.Info("workers idle=%d busy=%d ready_queue=%d dead_letter=%d capability_coverage=%v",
		idle, busy, m.readyQueue.Len(), m.deadLetter.Len(), coverage)
}

func (m *Monitor) cleanup() {
	cutoff := time.Now().Add(-m.retentionWindow)
	n, err := m.store.CleanupOld(context.Background(), cutoff)
	if err != nil {
		m.log.Warn("cleanup_old failed: %v", err)
		return
	}
	if n > 0 {
		m.log.Info("cleanup_old removed %d records older than %s", n, cutoff.Format(time.RFC3339))
	}
	stats, err := m.store.Statistics(context.Background())
	if err != nil {
		m.log.Warn("statistics failed: %v", err)
		return
	}
	m.log.Info("statistics pending=%d in_progress=%d completed=%d failed=%d dead_letter=%d total=%d",
		stats.Pending, stats.InProgress, stats.Completed, stats.Failed, stats.DeadLetter, stats.Total)
}
