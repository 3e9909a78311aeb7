// Package server assembles the dispatch server's "server context" (spec
// §9): registry, ready/dead-letter queues, persistence store, dispatcher,
// heartbeat monitor, dead-letter/cleanup monitors, the optional presence
// mirror and metrics collector, the ambient HTTP status surface, the
// acceptor loop, and the operator console. It generalizes the teacher's
// tcpserver.Server.Start accept loop (internal/tcpserver/server.go) into
// a full server context with the background loops spec §4.5-§4.8 add on
// top, and borrows its shutdown shape from the worker-pool example's
// cmd/queue/processor.go signal handling.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"taskdispatch/internal/config"
	"taskdispatch/internal/console"
	"taskdispatch/internal/deadletter"
	"taskdispatch/internal/dispatcher"
	"taskdispatch/internal/heartbeat"
	"taskdispatch/internal/httpapi"
	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/persistence/filestore"
	"taskdispatch/internal/persistence/sqlitestore"
	"taskdispatch/internal/presence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
	"taskdispatch/internal/workerhandle"
)

// Server is the assembled dispatch server. Unexported fields mirror spec
// §9's "small server context value threaded through all activities".
type Server struct {
	cfg *config.Config

	store      persistence.Store
	readyQueue *queue.FIFO
	deadLetter *queue.FIFO
	registry   *registry.Registry
	presence   *presence.Mirror
	metrics    *metrics.Collector

	dispatcher *dispatcher.Dispatcher
	heartbeat  *heartbeat.Monitor
	deadMon    *deadletter.Monitor
	httpSrv    *httpapi.Server

	log      *logging.Logger
	listener net.Listener

	taskCounter int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens persistence (choosing the sqlite or file engine per
// cfg.Storage.Engine), constructs every collaborator, and performs the
// restart-recovery load spec §4.8 describes, but does not yet start any
// background loop or the acceptor — call Start for that.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("server: initialize store: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		readyQueue: queue.New(),
		deadLetter: queue.New(),
		registry:   registry.New(),
		log:        logging.New("SERVER"),
		metrics:    metrics.NewCollector(),
	}
	s.presence = presence.New(cfg.Presence.RedisAddr, logging.New("PRESENCE"))

	if err := s.recover(ctx); err != nil {
		return nil, fmt.Errorf("server: recover: %w", err)
	}

	s.dispatcher = dispatcher.New(s.readyQueue, s.deadLetter, s.registry, s.store, logging.New("DISPATCH"), s.metrics)
	s.heartbeat = heartbeat.NewWithIntervals(s.registry, logging.New("HEARTBEAT"),
		cfg.Dispatch.HeartbeatInterval, cfg.Dispatch.HeartbeatTimeout)
	s.deadMon = deadletter.NewWithIntervals(s.readyQueue, s.deadLetter, s.registry, s.store, logging.New("DEADLETTER"), s.metrics,
		cfg.Dispatch.DeadLetterInterval, cfg.Dispatch.CleanupInterval, cfg.Dispatch.RetentionWindow)
	if cfg.Server.HTTPAddr != "" {
		s.httpSrv = httpapi.New(cfg.Server.HTTPAddr, s.readyQueue, s.deadLetter, s.registry, s.store)
	}
	return s, nil
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Storage.Engine {
	case config.StorageFile:
		return filestore.Open(cfg.Storage.FileDir)
	default:
		return sqlitestore.Open(cfg.Storage.SQLite)
	}
}

// recover implements spec §4.8's startup sequence: load_pending() into
// the ready queue, load_dead_letter() into the dead-letter queue, and
// compute the next monotonic task-id counter from persisted Task-<n> ids.
func (s *Server) recover(ctx context.Context) error {
	pending, err := s.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load_pending: %w", err)
	}
	for _, t := range pending {
		// InProgress is re-interpreted as Pending on restart (spec §9
		// design notes): no handle survives a restart to own it.
		if t.Status == task.StatusInProgress {
			t.Status = task.StatusPending
		}
		s.readyQueue.Push(t)
		s.bumpCounterFromID(t.ID)
	}

	deadLetter, err := s.store.LoadDeadLetter(ctx)
	if err != nil {
		return fmt.Errorf("load_dead_letter: %w", err)
	}
	for _, t := range deadLetter {
		s.deadLetter.Push(t)
		s.bumpCounterFromID(t.ID)
	}

	s.log.Info("recovered %d pending, %d dead-letter tasks; next task id counter at %d",
		len(pending), len(deadLetter), atomic.LoadInt64(&s.taskCounter)+1)
	return nil
}

var taskIDPattern = regexp.MustCompile(`^Task-(\d+)$`)

// bumpCounterFromID advances the monotonic counter past any persisted
// "Task-<n>" id, so the next minted id is always strictly greater than
// every id ever seen, per spec §8's restart-recovery property.
func (s *Server) bumpCounterFromID(id string) {
	m := taskIDPattern.FindStringSubmatch(id)
	if m == nil {
		return
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return
	}
	for {
		cur := atomic.LoadInt64(&s.taskCounter)
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.taskCounter, cur, n) {
			return
		}
	}
}

// NextTaskID mints the next "Task-<n>" id, for the console's create
// commands.
func (s *Server) NextTaskID() string {
	n := atomic.AddInt64(&s.taskCounter, 1)
	return fmt.Sprintf("Task-%d", n)
}

// Start launches every background loop and the acceptor, per spec §4.8's
// "start all background loops; start the acceptor" ordering. It returns
// once the listener is bound; the accept loop itself runs in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.runLoop(runCtx, "dispatcher", s.dispatcher.Run)
	s.runLoop(runCtx, "heartbeat", s.heartbeat.Run)
	s.runLoop(runCtx, "dead-letter", s.deadMon.RunDeadLetterLoop)
	s.runLoop(runCtx, "cleanup", s.deadMon.RunCleanupLoop)

	if s.httpSrv != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.Start(); err != nil {
				s.log.Warn("http server stopped: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.accept(runCtx)
	}()

	s.log.Success("listening on %s", s.cfg.Server.ListenAddr)
	return nil
}

func (s *Server) runLoop(ctx context.Context, name string, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
	_ = name
}

// accept is the acceptor loop per spec §4.8: mint a worker id, construct
// a handle, insert it into the registry, launch its read loop.
func (s *Server) accept(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Error("accept: %v", err)
				continue
			}
		}

		id := "Worker-" + uuid.New().String()
		h := workerhandle.New(id, conn, workerhandle.Deps{
			Store:      s.store,
			ReadyQueue: s.readyQueue,
			DeadLetter: s.deadLetter,
			Registry:   s.registry,
			MaxRetries: s.cfg.Dispatch.MaxRetries,
			Log:        logging.New("WORKER"),
			Presence:   s.presence,
			Metrics:    s.metrics,
		})
		s.registry.Add(h)
		s.log.Info("accepted connection from %s, assigned %s", conn.RemoteAddr(), id)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h.ReadLoop()
		}()
	}
}

// Console builds an operator console bound to this server's collaborators,
// writing its output to out (e.g. os.Stdout).
func (s *Server) Console(out io.Writer) *console.Console {
	return console.New(console.Deps{
		ReadyQueue: s.readyQueue,
		DeadLetter: s.deadLetter,
		Registry:   s.registry,
		Store:      s.store,
		Metrics:    s.metrics,
		Log:        logging.New("CONSOLE"),
		NextTaskID: s.NextTaskID,
	}, out)
}

// Shutdown closes the acceptor and HTTP server, cancels every background
// loop, and waits for them to exit. In-flight tasks remain persisted as
// InProgress, per spec §5 ("Cancellation and timeouts"); they are
// restored Pending on the next startup.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	_ = s.presence.Close()
	return s.store.Close()
}
