// Package registry holds the concurrent map from worker id to worker
// handle, per spec §4.3/§5. It generalizes the teacher's
// tcpserver.Server{Workers map[string]*Worker, mu sync.RWMutex} into a
// standalone type the dispatcher, heartbeat monitor, and acceptor all
// share without owning a TCP server themselves.
package registry

import "sync"

// Handle is the subset of workerhandle.Handle the registry needs to know
// about. Defined here (rather than importing workerhandle) to avoid an
// import cycle, since workerhandle needs to remove itself from a
// registry on disposal.
type Handle interface {
	ID() string
}

// Registry is a concurrent map from worker id to worker handle.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Handle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]Handle)}
}

// Add inserts or replaces the handle under its own id.
func (r *Registry) Add(h Handle) {
	r.mu.Lock()
	r.workers[h.ID()] = h
	r.mu.Unlock()
}

// Remove deletes the handle with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
}

// Get returns the handle for id, if still registered.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.workers[id]
	return h, ok
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Snapshot returns a point-in-time slice of all registered handles.
// Iterators built on top of this tolerate entries disappearing after the
// snapshot is taken, per spec §5 ("iterators must tolerate disappearing
// entries") — callers re-check liveness via the handle itself before
// acting on a stale snapshot.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.workers))
	for _, h := range r.workers {
		out = append(out, h)
	}
	return out
}

// Range calls fn for each handle in a live snapshot, stopping early if fn
// returns false. The registry lock is released before Range calls fn, so
// fn is free to block on socket I/O without risking a deadlock.
func (r *Registry) Range(fn func(Handle) bool) {
	for _, h := range r.Snapshot() {
		if !fn(h) {
			return
		}
	}
}
