package workerhandle

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/protocol"
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
	mu    sync.Mutex
	saved []*task.Task
	byStatus map[string]task.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{byStatus: make(map[string]task.Status)}
}

func (s *fakeStore) Save(ctx context.Context, t *task.Task, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, t.Clone())
	s.byStatus[t.ID] = status
	return nil
}

func (s *fakeStore) statusOf(id string) (task.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byStatus[id]
	return st, ok
}

func newTestHandle(t *testing.T) (*Handle, net.Conn, *fakeStore) {
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	store := newFakeStore()
	deps := Deps{
		Store:      store,
		ReadyQueue: queue.New(),
		DeadLetter: queue.New(),
		Registry:   registry.New(),
		MaxRetries: 3,
		Log:        logging.New("WORKERHANDLE"),
		Presence:   nil,
		Metrics:    freshMetrics(),
	}
	h := New("Worker-1", server, deps)
	deps.Registry.Add(h)
	return h, client, store
}

func TestNewHandleStartsIdleAndLegacy(t *testing.T) {
	h, _, _ := newTestHandle(t)
	assert.True(t, h.IsIdle())
	assert.True(t, h.CanHandle(task.KindCheckPrime))
	assert.True(t, h.CanHandle(task.KindHashText))
}

func TestHandleRegisterNarrowsCapabilities(t *testing.T) {
	h, client, _ := newTestHandle(t)

	go h.dispatch(protocol.NewRegister(protocol.RegisterPayload{
		ClientName:   "worker-a",
		Capabilities: []string{"CheckPrime"},
	}))

	raw, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	env, ok := protocol.DecodeEnvelope(raw)
	require.True(t, ok)
	assert.Equal(t, protocol.KindRegisterResponse, env.Type)

	assert.True(t, h.CanHandle(task.KindCheckPrime))
	assert.False(t, h.CanHandle(task.KindHashText))
}

func TestSendTaskMarksBusyAndWritesFrame(t *testing.T) {
	h, client, store := newTestHandle(t)
	tsk := task.New("Task-1", task.KindCheckPrime, "7", time.Now())

	errCh := make(chan error, 1)
	go func() { errCh <- h.SendTask(tsk) }()

	raw, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	env, ok := protocol.DecodeEnvelope(raw)
	require.True(t, ok)
	assert.Equal(t, protocol.KindTask, env.Type)
	require.NotNil(t, env.Task)
	assert.Equal(t, "Task-1", env.Task.TaskID)

	assert.False(t, h.IsIdle())
	st, ok := store.statusOf("Task-1")
	require.True(t, ok)
	assert.Equal(t, task.StatusInProgress, st)
}

func TestHandleResultCompletesAndReturnsIdle(t *testing.T) {
	h, client, store := newTestHandle(t)
	tsk := task.New("Task-1", task.KindCheckPrime, "7", time.Now())

	errCh := make(chan error, 1)
	go func() { errCh <- h.SendTask(tsk) }()
	_, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	h.dispatch(protocol.NewResult(protocol.ResultPayload{TaskID: "Task-1", Success: true, ResultData: "True"}))

	assert.True(t, h.IsIdle())
	assert.Nil(t, h.CurrentTaskInfo())
	st, ok := store.statusOf("Task-1")
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, st)
}

func TestHandleResultForStaleTaskIsIgnored(t *testing.T) {
	h, _, store := newTestHandle(t)
	h.dispatch(protocol.NewResult(protocol.ResultPayload{TaskID: "Task-unknown", Success: true}))
	assert.True(t, h.IsIdle())
	assert.Empty(t, store.saved)
}

func TestHandlePingRespondsWithPingResponse(t *testing.T) {
	h, client, _ := newTestHandle(t)

	go h.dispatch(protocol.NewPingRequest(protocol.PingRequestPayload{}))

	raw, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	env, ok := protocol.DecodeEnvelope(raw)
	require.True(t, ok)
	assert.Equal(t, protocol.KindPingResponse, env.Type)
}

func TestDisposeRequeuesInFlightTaskUnderRetryLimit(t *testing.T) {
	h, client, store := newTestHandle(t)
	tsk := task.New("Task-1", task.KindCheckPrime, "7", time.Now())

	errCh := make(chan error, 1)
	go func() { errCh <- h.SendTask(tsk) }()
	_, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	h.Dispose()

	assert.Equal(t, 1, h.deps.ReadyQueue.Len())
	st, ok := store.statusOf("Task-1")
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, st)
	_, stillRegistered := h.deps.Registry.Get("Worker-1")
	assert.False(t, stillRegistered)
}

func TestDisposeDeadLettersInFlightTaskAtRetryLimit(t *testing.T) {
	h, client, store := newTestHandle(t)
	h.deps.MaxRetries = 1
	tsk := task.New("Task-1", task.KindCheckPrime, "7", time.Now())

	errCh := make(chan error, 1)
	go func() { errCh <- h.SendTask(tsk) }()
	_, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	h.Dispose()

	assert.Equal(t, 0, h.deps.ReadyQueue.Len())
	assert.Equal(t, 1, h.deps.DeadLetter.Len())
	st, ok := store.statusOf("Task-1")
	require.True(t, ok)
	assert.Equal(t, task.StatusDeadLetter, st)
}

func TestSendTaskWriteFailureDisposesOnceWithSingleRetry(t *testing.T) {
	h, client, store := newTestHandle(t)
	tsk := task.New("Task-1", task.KindCheckPrime, "7", time.Now())

	// Close the client side so the write inside SendTask fails immediately,
	// exercising the failure path without a second goroutine racing a read.
	require.NoError(t, client.Close())

	err := h.SendTask(tsk)
	require.Error(t, err)

	assert.Equal(t, 1, h.deps.ReadyQueue.Len())
	assert.Equal(t, 1, tsk.RetryCount)
	st, ok := store.statusOf("Task-1")
	require.True(t, ok)
	assert.Equal(t, task.StatusPending, st)
	_, stillRegistered := h.deps.Registry.Get("Worker-1")
	assert.False(t, stillRegistered)

	// A second Dispose, as the read loop's deferred call would trigger once
	// it wakes up on the now-closed connection, must be a no-op: disposeOnce
	// was already consumed by SendTask's failure path.
	h.Dispose()
	assert.Equal(t, 1, h.deps.ReadyQueue.Len())
	assert.Equal(t, 1, tsk.RetryCount)
}

func TestDisposeIsIdempotent(t *testing.T) {
	h, _, _ := newTestHandle(t)
	assert.NotPanics(t, func() {
		h.Dispose()
		h.Dispose()
	})
}
