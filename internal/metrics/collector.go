// Package metrics exposes dispatch-server counters and gauges over
// Prometheus, grounded on the raft-recovery example's
// internal/metrics.Collector: a small struct of pre-registered
// prometheus.Collector values with Record*/Set* methods, served via
// promhttp on the ambient HTTP server rather than its own listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Collector holds every metric dispatchd reports.
type Collector struct {
	tasksSubmitted   prometheus.Counter
	tasksCompleted   prometheus.Counter
	tasksFailed      prometheus.Counter
	tasksDeadLetter  prometheus.Counter
	tasksRetried     prometheus.Counter

	readyQueueDepth prometheus.Gauge
	deadLetterDepth prometheus.Gauge
	workersIdle     prometheus.Gauge
	workersBusy     prometheus.Gauge
}

// NewCollector builds and registers every metric against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_tasks_submitted_total",
			Help: "Total number of tasks submitted to the dispatcher.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_tasks_completed_total",
			Help: "Total number of tasks that finished with Success=true.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_tasks_failed_total",
			Help: "Total number of tasks that finished with Success=false.",
		}),
		tasksDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_tasks_dead_letter_total",
			Help: "Total number of tasks moved to the dead-letter queue.",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_tasks_retried_total",
			Help: "Total number of worker-failure retries issued.",
		}),
		readyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_ready_queue_depth",
			Help: "Current number of tasks waiting in the ready queue.",
		}),
		deadLetterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_dead_letter_depth",
			Help: "Current number of tasks sitting in the dead-letter queue.",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_workers_idle",
			Help: "Current number of registered workers in the Idle state.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchd_workers_busy",
			Help: "Current number of registered workers in the Busy state.",
		}),
	}
	c.tasksSubmitted = registerOrReuse(c.tasksSubmitted).(prometheus.Counter)
	c.tasksCompleted = registerOrReuse(c.tasksCompleted).(prometheus.Counter)
	c.tasksFailed = registerOrReuse(c.tasksFailed).(prometheus.Counter)
	c.tasksDeadLetter = registerOrReuse(c.tasksDeadLetter).(prometheus.Counter)
	c.tasksRetried = registerOrReuse(c.tasksRetried).(prometheus.Counter)
	c.readyQueueDepth = registerOrReuse(c.readyQueueDepth).(prometheus.Gauge)
	c.deadLetterDepth = registerOrReuse(c.deadLetterDepth).(prometheus.Gauge)
	c.workersIdle = registerOrReuse(c.workersIdle).(prometheus.Gauge)
	c.workersBusy = registerOrReuse(c.workersBusy).(prometheus.Gauge)
	return c
}

// registerOrReuse registers coll against the default registry, returning
// the already-registered collector of the same name if one exists so that
// creating multiple Collectors in one process (e.g. across tests) doesn't
// panic on duplicate registration.
func registerOrReuse(coll prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(coll); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return coll
}

// Every method is nil-receiver safe so collaborators can hold a possibly-
// nil *Collector (metrics disabled) without a branch at every call site.

func (c *Collector) RecordSubmitted() {
	if c != nil {
		c.tasksSubmitted.Inc()
	}
}

func (c *Collector) RecordCompleted() {
	if c != nil {
		c.tasksCompleted.Inc()
	}
}

func (c *Collector) RecordFailed() {
	if c != nil {
		c.tasksFailed.Inc()
	}
}

func (c *Collector) RecordDeadLetter() {
	if c != nil {
		c.tasksDeadLetter.Inc()
	}
}

func (c *Collector) RecordRetried() {
	if c != nil {
		c.tasksRetried.Inc()
	}
}

// SetQueueDepths updates the two queue-depth gauges in one call.
func (c *Collector) SetQueueDepths(ready, deadLetter int) {
	if c == nil {
		return
	}
	c.readyQueueDepth.Set(float64(ready))
	c.deadLetterDepth.Set(float64(deadLetter))
}

// SetWorkerCounts updates the idle/busy worker gauges in one call.
func (c *Collector) SetWorkerCounts(idle, busy int) {
	if c == nil {
		return
	}
	c.workersIdle.Set(float64(idle))
	c.workersBusy.Set(float64(busy))
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
