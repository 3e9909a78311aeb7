package console

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
)

func freshMetrics() *metrics.Collector {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

type fakeStore struct {
	persistence.Store
	mu       sync.Mutex
	saved    map[string]task.Status
	deleted  map[string]bool
	statsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]task.Status), deleted: make(map[string]bool)}
}

func (s *fakeStore) Save(ctx context.Context, t *task.Task, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[t.ID] = status
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[taskID] = true
	return nil
}

func (s *fakeStore) Statistics(ctx context.Context) (persistence.Stats, error) {
	if s.statsErr != nil {
		return persistence.Stats{}, s.statsErr
	}
	return persistence.Stats{Pending: 1, InProgress: 2, Completed: 3, Failed: 0, DeadLetter: 1, Total: 7}, nil
}

func newTestConsole() (*Console, *bytes.Buffer, *fakeStore, Deps) {
	var buf bytes.Buffer
	store := newFakeStore()
	counter := 0
	deps := Deps{
		ReadyQueue: queue.New(),
		DeadLetter: queue.New(),
		Registry:   registry.New(),
		Store:      store,
		Metrics:    freshMetrics(),
		Log:        logging.New("CONSOLE"),
		NextTaskID: func() string {
			counter++
			return "Task-" + strconv.Itoa(counter)
		},
	}
	return New(deps, &buf), &buf, store, deps
}

func TestCreateSubmitsAndPersistsPending(t *testing.T) {
	c, buf, store, deps := newTestConsole()

	c.dispatch(context.Background(), "create CheckPrime 7")

	assert.Equal(t, 1, deps.ReadyQueue.Len())
	assert.Contains(t, buf.String(), "submitted Task-1")
	assert.Equal(t, task.StatusPending, store.saved["Task-1"])
}

func TestCreateBatchSubmitsEachPayload(t *testing.T) {
	c, _, _, deps := newTestConsole()

	c.dispatch(context.Background(), "create batch CheckPrime 7 9 11")

	assert.Equal(t, 3, deps.ReadyQueue.Len())
}

func TestCreateBatchRequiresAtLeastOnePayload(t *testing.T) {
	c, buf, _, deps := newTestConsole()

	c.dispatch(context.Background(), "create batch CheckPrime")

	assert.Equal(t, 0, deps.ReadyQueue.Len())
	assert.Contains(t, buf.String(), "usage:")
}

func TestStatusReportsCountsFromStoreAndRegistry(t *testing.T) {
	c, buf, _, _ := newTestConsole()

	c.dispatch(context.Background(), "status")

	out := buf.String()
	assert.Contains(t, out, "workers=0")
	assert.Contains(t, out, "pending=1")
	assert.Contains(t, out, "in_progress=2")
}

func TestStatsReportsFullBreakdown(t *testing.T) {
	c, buf, _, _ := newTestConsole()

	c.dispatch(context.Background(), "stats")

	assert.Contains(t, buf.String(), "total=7")
}

func TestClientsReportsNoWorkersWhenEmpty(t *testing.T) {
	c, buf, _, _ := newTestConsole()

	c.dispatch(context.Background(), "clients")

	assert.Contains(t, buf.String(), "no workers registered")
}

func TestQueueListsReadyAndDeadLetterContents(t *testing.T) {
	c, buf, _, deps := newTestConsole()
	deps.ReadyQueue.Push(task.New("Task-1", task.KindCheckPrime, "7", time.Now()))
	deps.DeadLetter.Push(task.New("Task-2", task.KindHashText, "x", time.Now()))

	c.dispatch(context.Background(), "queue")

	out := buf.String()
	assert.Contains(t, out, "ready_queue_depth=1")
	assert.Contains(t, out, "dead_letter_depth=1")
	assert.Contains(t, out, "Task-1")
	assert.Contains(t, out, "Task-2")
}

func TestClearDeadLetterDrainsAndDeletes(t *testing.T) {
	c, buf, store, deps := newTestConsole()
	deps.DeadLetter.Push(task.New("Task-1", task.KindCheckPrime, "7", time.Now()))

	c.dispatch(context.Background(), "clear-deadletter")

	assert.Equal(t, 0, deps.DeadLetter.Len())
	assert.True(t, store.deleted["Task-1"])
	assert.Contains(t, buf.String(), "cleared 1 dead-letter tasks")
}

func TestReprocessDeadLetterRequeuesWithResetRetryCount(t *testing.T) {
	c, buf, store, deps := newTestConsole()
	dlt := task.New("Task-1", task.KindCheckPrime, "7", time.Now())
	dlt.RetryCount = 5
	deps.DeadLetter.Push(dlt)

	c.dispatch(context.Background(), "reprocess-deadletter")

	require.Equal(t, 1, deps.ReadyQueue.Len())
	requeued := deps.ReadyQueue.Peek()
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Equal(t, task.StatusPending, store.saved["Task-1"])
	assert.Contains(t, buf.String(), "reprocessed 1 dead-letter tasks")
}

func TestExitStopsTheLoopWithExitCodeZero(t *testing.T) {
	c, _, _, _ := newTestConsole()
	stop := c.dispatch(context.Background(), "exit")
	assert.True(t, stop)
	assert.Equal(t, 0, c.ExitCode)
}

func TestUnknownCommandReportsError(t *testing.T) {
	c, buf, _, _ := newTestConsole()
	stop := c.dispatch(context.Background(), "frobnicate")
	assert.False(t, stop)
	assert.Contains(t, buf.String(), `unknown command "frobnicate"`)
}

func TestRunExitsOnExitCommand(t *testing.T) {
	c, _, _, _ := newTestConsole()
	in := strings.NewReader("status\nexit\n")
	c.Run(context.Background(), in)
	assert.Equal(t, 0, c.ExitCode)
}
