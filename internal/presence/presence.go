// Package presence mirrors live worker state into Redis purely for
// external observability, grounded on the teacher's
// tcpserver.registerWorkerInRedis (internal/tcpserver/server.go): an HSet
// per worker under "worker:<id>", an SAdd into a "workers:index" set, and
// a TTL on the per-worker key so a crashed mirror writer doesn't leave
// stale entries forever. The in-memory registry is always the source of
// truth for dispatch; a Redis outage here only degrades what an external
// dashboard can see, never the dispatch server's own behavior (spec §7).
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"taskdispatch/internal/logging"
)

const (
	indexKey   = "workers:index"
	keyPrefix  = "worker:"
	ttl        = 90 * time.Second
	writeTimeout = 2 * time.Second
)

// Mirror is an optional Redis-backed presence sink. A nil *Mirror (or one
// built over an unreachable Redis) silently no-ops on every call.
type Mirror struct {
	client *redis.Client
	log    *logging.Logger
}

// New returns a Mirror, or nil if addr is empty (presence mirroring
// disabled, the default per SPEC_FULL.md §10.2).
func New(addr string, log *logging.Logger) *Mirror {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Mirror{client: client, log: log}
}

// Record upserts a live worker's observable state into Redis. Errors are
// logged and swallowed; presence is never a correctness dependency.
func (m *Mirror) Record(workerID, name, status string, capabilities []string, lastHeartbeat time.Time) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	key := keyPrefix + workerID
	fields := map[string]interface{}{
		"worker_id":    workerID,
		"name":         name,
		"status":       status,
		"capabilities": capabilities,
		"last_seen":    lastHeartbeat.UnixMilli(),
	}
	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		m.log.Warn("presence: hset %s: %v", workerID, err)
		return
	}
	if err := m.client.SAdd(ctx, indexKey, workerID).Err(); err != nil {
		m.log.Warn("presence: sadd %s: %v", workerID, err)
		return
	}
	if err := m.client.Expire(ctx, key, ttl).Err(); err != nil {
		m.log.Warn("presence: expire %s: %v", workerID, err)
	}
}

// Forget removes a disposed worker's mirrored entry immediately rather
// than waiting for its TTL to lapse.
func (m *Mirror) Forget(workerID string) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = m.client.SRem(ctx, indexKey, workerID).Err()
	_ = m.client.Del(ctx, keyPrefix+workerID).Err()
}

// Close releases the underlying Redis client, if any.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
