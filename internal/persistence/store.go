// Package persistence defines the durable-store contract spec §4.1
// requires: save/update/delete/load-by-status/statistics/cleanup, with
// two interchangeable implementations (sqlitestore, filestore) selected
// at startup by the --file-storage flag (spec §6). Every method must
// serialize its own operations; callers assume thread-safety (spec §4.1).
package persistence

import (
	"context"
	"time"

	"taskdispatch/internal/task"
)

// Stats is the derived, recomputed-on-demand statistics record spec §3
// describes, bucketed by status.
type Stats struct {
	Pending     int       `json:"pending"`
	InProgress  int       `json:"in_progress"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	DeadLetter  int       `json:"dead_letter"`
	Total       int       `json:"total"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Store is the narrow interface the dispatch server treats the durable
// layer as, per spec §1 ("the concrete durable store... treated as an
// opaque key/value style collaborator with a narrow interface").
type Store interface {
	// Initialize prepares storage for use. Idempotent; may log a summary.
	Initialize(ctx context.Context) error

	// Save upserts a task by id, replacing status and status_updated_at.
	// Must be atomic with respect to crashes: either the new record is
	// visible in full or the old record remains (spec §4.1).
	Save(ctx context.Context, t *task.Task, status task.Status) error

	// UpdateStatus is a shorthand upsert of status only.
	UpdateStatus(ctx context.Context, taskID string, status task.Status) error

	// Delete removes a record by task id. No-op if absent.
	Delete(ctx context.Context, taskID string) error

	// LoadPending returns all Pending or InProgress records, ordered by
	// created_at ascending (spec §4.1; InProgress is reinterpreted as
	// Pending by the caller on restart per spec §9).
	LoadPending(ctx context.Context) ([]*task.Task, error)

	// LoadDeadLetter returns all DeadLetter records, ordered by
	// status_updated_at ascending.
	LoadDeadLetter(ctx context.Context) ([]*task.Task, error)

	// Statistics returns counts bucketed by status plus a total and a
	// generation timestamp.
	Statistics(ctx context.Context) (Stats, error)

	// CleanupOld deletes Completed/Failed records whose status_updated_at
	// predates cutoff.
	CleanupOld(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases any underlying resources.
	Close() error
}
