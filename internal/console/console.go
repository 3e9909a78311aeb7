// Package console implements the line-based operator command loop spec
// §4.9/§6 describes: create/create-batch/status/stats/clients/queue/
// clear-deadletter/reprocess-deadletter/exit, read from stdin. It follows
// the teacher's CLI texture (cobra's showStatus-style plain-text report
// in the raft-recovery example) but as a persistent REPL rather than a
// one-shot subcommand, since spec §6 calls for an interactive loop, not a
// CLI invoked once per operation.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/metrics"
	"taskdispatch/internal/persistence"
	"taskdispatch/internal/queue"
	"taskdispatch/internal/registry"
	"taskdispatch/internal/task"
)

// Capable is the subset of workerhandle.Handle the "clients" command
// needs to report status and declared capabilities.
type Capable interface {
	registry.Handle
	IsIdle() bool
	CanHandle(kind task.Kind) bool
}

// Deps bundles the server-context collaborators the console operates on.
type Deps struct {
	ReadyQueue *queue.FIFO
	DeadLetter *queue.FIFO
	Registry   *registry.Registry
	Store      persistence.Store
	Metrics    *metrics.Collector
	Log        *logging.Logger
	// NextTaskID mints the next monotonic "Task-<n>" id, per spec §4.8's
	// restart-recovery counter.
	NextTaskID func() string
}

// Console is the command loop. ExitCode is left at 0 until the operator
// runs "exit", per spec §6 ("Exit returns code 0").
type Console struct {
	deps     Deps
	out      io.Writer
	ExitCode int
}

// New builds a Console writing operator output to out.
func New(deps Deps, out io.Writer) *Console {
	return &Console{deps: deps, out: out}
}

// Run reads commands from in until EOF or "exit". ctx is passed to the
// commands it runs; cancelling it does not stop the loop or interrupt a
// pending read.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, "dispatchd console ready. Type a command or 'exit'.")
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.dispatch(ctx, line) {
			return
		}
	}
}

// dispatch executes one command line, returning true if the loop should
// stop (the "exit" command).
func (c *Console) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "create":
		c.handleCreate(ctx, args)
	case "status":
		c.handleStatus(ctx)
	case "stats":
		c.handleStats(ctx, args)
	case "clients":
		c.handleClients()
	case "queue":
		c.handleQueue()
	case "clear-deadletter":
		c.handleClearDeadLetter()
	case "reprocess-deadletter":
		c.handleReprocessDeadLetter(ctx)
	case "exit":
		c.ExitCode = 0
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", cmd)
	}
	return false
}

// handleCreate implements both "create <kind> <data>" and "create batch
// <kind> <arg1> <arg2> ...", per spec §4.9 / §6.
func (c *Console) handleCreate(ctx context.Context, args []string) {
	if len(args) >= 1 && args[0] == "batch" {
		if len(args) < 3 {
			fmt.Fprintln(c.out, "usage: create batch <kind> <data1> [data2...]")
			return
		}
		kind := task.Kind(args[1])
		for _, payload := range args[2:] {
			c.submit(ctx, kind, payload)
		}
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(c.out, "usage: create <kind> <data>")
		return
	}
	kind := task.Kind(args[0])
	payload := strings.Join(args[1:], " ")
	c.submit(ctx, kind, payload)
}

// submit persists a freshly-minted task as Pending before acknowledging
// it, per spec §4.9 ("submissions are persisted before acknowledgement"),
// then pushes it onto the ready queue for the dispatcher to pick up.
func (c *Console) submit(ctx context.Context, kind task.Kind, payload string) {
	id := c.deps.NextTaskID()
	t := task.New(id, kind, payload, time.Now())
	if err := c.deps.Store.Save(ctx, t, task.StatusPending); err != nil {
		fmt.Fprintf(c.out, "submit %s failed: %v\n", id, err)
		return
	}
	c.deps.ReadyQueue.Push(t)
	c.deps.Metrics.RecordSubmitted()
	fmt.Fprintf(c.out, "submitted %s (kind=%s)\n", id, kind)
}

func (c *Console) handleStatus(ctx context.Context) {
	stats, err := c.deps.Store.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "status unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "workers=%d ready_queue=%d dead_letter=%d pending=%d in_progress=%d\n",
		c.deps.Registry.Count(), c.deps.ReadyQueue.Len(), c.deps.DeadLetter.Len(), stats.Pending, stats.InProgress)
}

func (c *Console) handleStats(ctx context.Context, args []string) {
	if len(args) == 1 && args[0] == "--watch" {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for i := 0; i < 30; i++ {
			c.printStats(ctx)
			<-ticker.C
		}
		return
	}
	c.printStats(ctx)
}

func (c *Console) printStats(ctx context.Context) {
	stats, err := c.deps.Store.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "stats unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "pending=%d in_progress=%d completed=%d failed=%d dead_letter=%d total=%d\n",
		stats.Pending, stats.InProgress, stats.Completed, stats.Failed, stats.DeadLetter, stats.Total)
}

func (c *Console) handleClients() {
	count := 0
	c.deps.Registry.Range(func(h registry.Handle) bool {
		count++
		capable, ok := h.(Capable)
		if !ok {
			fmt.Fprintf(c.out, "%s (legacy handle)\n", h.ID())
			return true
		}
		state := "Busy"
		if capable.IsIdle() {
			state = "Idle"
		}
		var caps []string
		for _, k := range []task.Kind{task.KindCheckPrime, task.KindHashText} {
			if capable.CanHandle(k) {
				caps = append(caps, string(k))
			}
		}
		fmt.Fprintf(c.out, "%s state=%s capabilities=%v\n", h.ID(), state, caps)
		return true
	})
	if count == 0 {
		fmt.Fprintln(c.out, "no workers registered")
	}
}

func (c *Console) handleQueue() {
	fmt.Fprintf(c.out, "ready_queue_depth=%d dead_letter_depth=%d\n", c.deps.ReadyQueue.Len(), c.deps.DeadLetter.Len())
	for _, t := range c.deps.ReadyQueue.Snapshot() {
		fmt.Fprintf(c.out, "  ready: %s kind=%s retry_count=%d\n", t.ID, t.Kind, t.RetryCount)
	}
	for _, t := range c.deps.DeadLetter.Snapshot() {
		fmt.Fprintf(c.out, "  dead_letter: %s kind=%s reason=%s\n", t.ID, t.Kind, t.DeadLetterReason)
	}
}

// handleClearDeadLetter drops every dead-lettered task without requeueing
// it, per spec §4.9's "clear dead-letter" operation.
func (c *Console) handleClearDeadLetter() {
	drained := c.deps.DeadLetter.DrainAll()
	for _, t := range drained {
		if err := c.deps.Store.Delete(context.Background(), t.ID); err != nil {
			c.deps.Log.Warn("clear-deadletter: delete %s: %v", t.ID, err)
		}
	}
	fmt.Fprintf(c.out, "cleared %d dead-letter tasks\n", len(drained))
}

// handleReprocessDeadLetter drains the dead-letter queue, resets each
// task's retry_count to 0 and last_retry_at to null, and pushes it back
// onto the ready queue, per spec §4.9. It is idempotent when the queue is
// empty (spec §8).
func (c *Console) handleReprocessDeadLetter(ctx context.Context) {
	drained := c.deps.DeadLetter.DrainAll()
	for _, t := range drained {
		t.Requeue(time.Now())
		if err := c.deps.Store.Save(ctx, t, task.StatusPending); err != nil {
			c.deps.Log.Warn("reprocess-deadletter: persist %s: %v", t.ID, err)
			continue
		}
		c.deps.ReadyQueue.Push(t)
	}
	fmt.Fprintf(c.out, "reprocessed %d dead-letter tasks\n", len(drained))
}
