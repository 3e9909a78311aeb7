package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence/filestore"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
)

func freshMetrics() *metrics.Collector {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

func TestNewUsesSpecDefaultIntervals(t *testing.T) {
	m := New(queue.New(), queue.New(), registry.New(), nil, logging.New("DEADLETTER"), nil)
	assert.Equal(t, DeadLetterInterval, m.deadLetterInterval)
	assert.Equal(t, CleanupInterval, m.cleanupInterval)
	assert.Equal(t, RetentionWindow, m.retentionWindow)
}

func TestNewWithIntervalsOverridesOnlyPositiveValues(t *testing.T) {
	m := NewWithIntervals(queue.New(), queue.New(), registry.New(), nil, logging.New("DEADLETTER"), nil,
		time.Second, time.Minute, time.Hour)
	assert.Equal(t, time.Second, m.deadLetterInterval)
	assert.Equal(t, time.Minute, m.cleanupInterval)
	assert.Equal(t, time.Hour, m.retentionWindow)

	fallback := NewWithIntervals(queue.New(), queue.New(), registry.New(), nil, logging.New("DEADLETTER"), nil,
		0, -1, 0)
	assert.Equal(t, DeadLetterInterval, fallback.deadLetterInterval)
	assert.Equal(t, CleanupInterval, fallback.cleanupInterval)
	assert.Equal(t, RetentionWindow, fallback.retentionWindow)
}

func TestReportDeadLetterDeltaTracksLastLen(t *testing.T) {
	dl := queue.New()
	dl.Push(task.New("Task-1", task.KindCheckPrime, "7", time.Now()))
	m := New(queue.New(), dl, registry.New(), nil, logging.New("DEADLETTER"), freshMetrics())

	m.reportDeadLetterDelta()
	assert.Equal(t, 1, m.lastDeadLetterLen)

	dl.Push(task.New("Task-2", task.KindCheckPrime, "9", time.Now()))
	m.reportDeadLetterDelta()
	assert.Equal(t, 2, m.lastDeadLetterLen)
}

func TestCleanupRemovesRecordsOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))

	old := task.New("Task-old", task.KindCheckPrime, "7", time.Now().Add(-48*time.Hour))
	old.MarkTerminal(true, "True", time.Now().Add(-48*time.Hour))
	require.NoError(t, store.Save(context.Background(), old, task.StatusCompleted))

	recent := task.New("Task-recent", task.KindCheckPrime, "9", time.Now())
	recent.MarkTerminal(true, "True", time.Now())
	require.NoError(t, store.Save(context.Background(), recent, task.StatusCompleted))

	m := NewWithIntervals(queue.New(), queue.New(), registry.New(), store, logging.New("DEADLETTER"), freshMetrics(),
		0, 0, 24*time.Hour)
	m.cleanup()

	stats, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestRunDeadLetterLoopStopsOnContextCancellation(t *testing.T) {
	m := NewWithIntervals(queue.New(), queue.New(), registry.New(), nil, logging.New("DEADLETTER"), freshMetrics(),
		5*time.Millisecond, time.Hour, 24*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunDeadLetterLoop(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDeadLetterLoop did not return after context cancellation")
	}
}
