// Package heartbeat implements the eviction loop spec §4.6 describes:
// every 5s, remove and dispose any worker handle whose last heartbeat
// has aged past the liveness threshold. Grounded on the teacher's
// registerWorkerInRedis TTL idiom (internal/tcpserver/server.go) for
// the "liveness is a timestamp compared against now" shape, generalized
// from a Redis TTL into an explicit in-process check since the registry
// here is the authoritative liveness source, not Redis.
package heartbeat

import (
	"context"
	"time"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/registry"
)

const (
	// DefaultInterval is how often the monitor sweeps the registry.
	DefaultInterval = 5 * time.Second
	// DefaultTimeout is the liveness threshold applied to is_alive.
	DefaultTimeout = 30 * time.Second
)

// Disposable is the subset of workerhandle.Handle the monitor needs.
type Disposable interface {
	registry.Handle
	IsAlive(timeout time.Duration) bool
	Dispose()
}

// Monitor is the heartbeat eviction loop.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
	timeout  time.Duration
	log      *logging.Logger
}

// New constructs a Monitor with the spec's default interval and timeout.
func New(reg *registry.Registry, log *logging.Logger) *Monitor {
	return &Monitor{registry: reg, interval: DefaultInterval, timeout: DefaultTimeout, log: log}
}

// NewWithIntervals constructs a Monitor overriding the default sweep
// interval and liveness timeout, e.g. from config.Config.Dispatch.
func NewWithIntervals(reg *registry.Registry, log *logging.Logger, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{registry: reg, interval: interval, timeout: timeout, log: log}
}

// Run blocks, sweeping the registry until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep disposes every handle that has failed to heartbeat within
// timeout. Disposal itself removes the handle from the registry and
// runs the shared cleanup/retry path (spec §4.6).
func (m *Monitor) sweep() {
	var stale []Disposable
	m.registry.Range(func(h registry.Handle) bool {
		d, ok := h.(Disposable)
		if ok && !d.IsAlive(m.timeout) {
			stale = append(stale, d)
		}
		return true
	})
	for _, d := range stale {
		m.log.Warn("heartbeat timeout, evicting worker %s", d.ID())
		d.Dispose()
	}
}
