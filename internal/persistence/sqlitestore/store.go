// Package sqlitestore is the "embedded document/key-value store" variant
// of spec §4.1/§6: a single tasks table keyed uniquely on task_id with
// secondary indexes on status, created_at, and status_updated_at. It runs
// in-process against modernc.org/sqlite (pure Go, no cgo, no separate
// server to operate) — grounded on the oro example's openDB helper
// (cmd/oro/db.go): WAL journal mode plus a busy_timeout, verified with a
// PingContext before use.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"taskdispatch/internal/persistence"
	"taskdispatch/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id           TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	payload           TEXT NOT NULL,
	retry_count       INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	last_retry_at     INTEGER,
	status            TEXT NOT NULL,
	status_updated_at INTEGER NOT NULL,
	client_id         TEXT,
	error_message     TEXT,
	doc               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated_at ON tasks(status_updated_at);
`

// Store is the sqlite-backed persistence.Store implementation.
type Store struct {
	db      *sql.DB
	logPath string
	logMu   sync.Mutex
}

// Open opens (creating if absent) the sqlite file at path and applies the
// schema. The returned Store serializes writes the way the interface
// requires; sql.DB already pools/serializes access to the single file.
// Dead-letter audit lines (spec §4.4) are appended to a sibling
// "<path>.deadletter.log" file, the same append-only text format
// filestore.Store uses, since the audit trail is independent of which
// structured store backs the records.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: busy_timeout: %w", err)
	}

	return &Store{db: db, logPath: path + ".deadletter.log"}, nil
}

var _ persistence.Store = (*Store)(nil)

// Initialize applies the schema. Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

// Save upserts the full record inside one statement — SQLite's INSERT ...
// ON CONFLICT DO UPDATE is atomic with respect to a crash mid-write: the row is either
// the old value or the new one, never a half-written mix (spec §4.1).
func (s *Store) Save(ctx context.Context, t *task.Task, status task.Status) error {
	t.Status = status
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, kind, payload, retry_count, created_at, last_retry_at, status, status_updated_at, client_id, error_message, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			kind=excluded.kind, payload=excluded.payload, retry_count=excluded.retry_count,
			last_retry_at=excluded.last_retry_at, status=excluded.status,
			status_updated_at=excluded.status_updated_at, client_id=excluded.client_id,
			error_message=excluded.error_message, doc=excluded.doc
	`,
		t.ID, string(t.Kind), t.Payload, t.RetryCount, t.CreatedAt.UTC().UnixNano(),
		unixOrNil(t.LastRetryAt), string(t.Status), t.StatusUpdatedAt.UTC().UnixNano(),
		t.ClientID, t.ErrorMessage, string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", t.ID, err)
	}
	if status == task.StatusDeadLetter {
		if err := s.appendDeadLetterLog(t); err != nil {
			return err
		}
	}
	return nil
}

// appendDeadLetterLog appends a one-line human-readable audit record,
// mirroring filestore.Store.appendDeadLetterLog's format.
func (s *Store) appendDeadLetterLog(t *task.Task) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sqlitestore: open dead-letter log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%s task=%s kind=%s retry_count=%d reason=%s error=%q\n",
		time.Now().UTC().Format(time.RFC3339), t.ID, t.Kind, t.RetryCount, t.DeadLetterReason, t.ErrorMessage)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("sqlitestore: append dead-letter log: %w", err)
	}
	return nil
}

// UpdateStatus is a shorthand upsert of status only, for records already
// present. If the row doesn't exist this is a no-op, mirroring callers
// that only ever call it after a prior Save.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status task.Status) error {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE task_id = ?`, taskID)
	var rawDoc string
	if err := row.Scan(&rawDoc); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("sqlitestore: update_status %s: %w", taskID, err)
	}

	var t task.Task
	if err := json.Unmarshal([]byte(rawDoc), &t); err != nil {
		return fmt.Errorf("sqlitestore: update_status %s: %w", taskID, err)
	}
	t.Status = status
	t.StatusUpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(&t)
	if err != nil {
		return fmt.Errorf("sqlitestore: update_status %s: %w", taskID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, status_updated_at = ?, doc = ? WHERE task_id = ?`,
		string(status), t.StatusUpdatedAt.UnixNano(), string(doc), taskID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update_status %s: %w", taskID, err)
	}
	return nil
}

// Delete removes the record for taskID, if present.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", taskID, err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		var t task.Task
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			// A half-written or corrupted row is treated as absent,
			// never as a crash (spec §4.1: "a crash must not produce a
			// half-parseable record" -- here we go further and simply
			// skip any record that fails to parse).
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// LoadPending returns Pending and InProgress records ordered by
// created_at ascending. InProgress is included deliberately: on restart
// the caller re-interprets these as Pending, per spec §9.
func (s *Store) LoadPending(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM tasks WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(task.StatusPending), string(task.StatusInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load_pending: %w", err)
	}
	return scanTasks(rows)
}

// LoadDeadLetter returns DeadLetter records ordered by status_updated_at
// ascending.
func (s *Store) LoadDeadLetter(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM tasks WHERE status = ? ORDER BY status_updated_at ASC`,
		string(task.StatusDeadLetter),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load_dead_letter: %w", err)
	}
	return scanTasks(rows)
}

// Statistics returns counts bucketed by status.
func (s *Store) Statistics(ctx context.Context) (persistence.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return persistence.Stats{}, fmt.Errorf("sqlitestore: statistics: %w", err)
	}
	defer rows.Close()

	stats := persistence.Stats{GeneratedAt: time.Now()}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return persistence.Stats{}, fmt.Errorf("sqlitestore: statistics scan: %w", err)
		}
		switch task.Status(status) {
		case task.StatusPending:
			stats.Pending = count
		case task.StatusInProgress:
			stats.InProgress = count
		case task.StatusCompleted:
			stats.Completed = count
		case task.StatusFailed:
			stats.Failed = count
		case task.StatusDeadLetter:
			stats.DeadLetter = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// CleanupOld deletes Completed/Failed records older than cutoff.
func (s *Store) CleanupOld(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?) AND status_updated_at < ?`,
		string(task.StatusCompleted), string(task.StatusFailed), cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: cleanup_old: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: cleanup_old rows affected: %w", err)
	}
	return int(n), nil
}
