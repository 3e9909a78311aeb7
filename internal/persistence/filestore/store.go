// Package filestore is the "--file-storage" persistence variant of spec
// §4.1/§6: three JSON arrays (tasks_pending.json, tasks_completed.json,
// tasks_deadletter.json) plus a recomputed statistics.json, and an
// append-only human-readable dead-letter-queue.log. Every rewrite goes
// through a temp-file-then-rename swap, the same atomic-write idiom the
// raft-recovery example's snapshot manager uses (internal/snapshot) —
// os.WriteFile into a .tmp sibling, then os.Rename over the real path, so
// a crash mid-write leaves either the old file intact or the new one
// fully written, never a half-parseable mix.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"taskdispatch/internal/persistence"
	"taskdispatch/internal/task"
)

// Store is the three-JSON-file persistence.Store implementation. A single
// mutex serializes all reads and writes across the three files, since a
// Save can move a record between files (e.g. InProgress -> Completed) and
// partial visibility of that move across files is the one thing the
// single-mutex discipline rules out.
type Store struct {
	mu  sync.Mutex
	dir string
}

var _ persistence.Store = (*Store)(nil)

const (
	pendingFile    = "tasks_pending.json"
	completedFile  = "tasks_completed.json"
	deadLetterFile = "tasks_deadletter.json"
	statsFile      = "statistics.json"
	deadLetterLog  = "dead-letter-queue.log"
)

// Open returns a Store rooted at dir. dir is created if absent; the JSON
// files themselves are created by Initialize, or on first write if
// Initialize is never called.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Initialize ensures the three record files exist (as empty arrays) so
// later loads don't need to special-case a missing file versus an empty
// one.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{pendingFile, completedFile, deadLetterFile} {
		if _, err := s.readRecords(name); err != nil {
			return err
		}
		if _, err := os.Stat(s.path(name)); os.IsNotExist(err) {
			if err := s.writeRecords(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close is a no-op; the store holds no long-lived file handles.
func (s *Store) Close() error { return nil }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readRecords loads the JSON array at name, treating a missing file or a
// corrupt/unparseable one as empty rather than an error — a half-written
// file from a prior crash must never wedge startup (spec §4.1).
func (s *Store) readRecords(name string) ([]*task.Task, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read %s: %w", name, err)
	}
	var records []*task.Task
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, nil
	}
	return records, nil
}

// writeRecords atomically replaces the JSON array at name.
func (s *Store) writeRecords(name string, records []*task.Task) error {
	if records == nil {
		records = []*task.Task{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", name, err)
	}
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write temp %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filestore: rename %s: %w", name, err)
	}
	return nil
}

func fileFor(status task.Status) (string, bool) {
	switch status {
	case task.StatusPending, task.StatusInProgress:
		return pendingFile, true
	case task.StatusCompleted, task.StatusFailed:
		return completedFile, true
	case task.StatusDeadLetter:
		return deadLetterFile, true
	default:
		return "", false
	}
}

// removeFromAll strips any record with the given id from every one of
// the three files except keepFile, so a status change that moves a
// record between files never leaves it duplicated.
func (s *Store) removeFromAll(taskID, keepFile string) error {
	for _, name := range []string{pendingFile, completedFile, deadLetterFile} {
		if name == keepFile {
			continue
		}
		records, err := s.readRecords(name)
		if err != nil {
			return err
		}
		filtered := records[:0:0]
		changed := false
		for _, r := range records {
			if r.ID == taskID {
				changed = true
				continue
			}
			filtered = append(filtered, r)
		}
		if changed {
			if err := s.writeRecords(name, filtered); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save upserts t into the file matching status, removing it from the
// other two files first.
func (s *Store) Save(ctx context.Context, t *task.Task, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Status = status
	name, ok := fileFor(status)
	if !ok {
		return fmt.Errorf("filestore: unknown status %q", status)
	}
	if err := s.removeFromAll(t.ID, name); err != nil {
		return err
	}
	records, err := s.readRecords(name)
	if err != nil {
		return err
	}
	replaced := false
	for i, r := range records {
		if r.ID == t.ID {
			records[i] = t.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, t.Clone())
	}
	if status == task.StatusDeadLetter {
		if err := s.appendDeadLetterLog(t); err != nil {
			return err
		}
	}
	return s.writeRecords(name, records)
}

// appendDeadLetterLog appends a one-line human-readable audit record.
func (s *Store) appendDeadLetterLog(t *task.Task) error {
	f, err := os.OpenFile(s.path(deadLetterLog), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open dead-letter log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%s task=%s kind=%s retry_count=%d reason=%s error=%q\n",
		time.Now().UTC().Format(time.RFC3339), t.ID, t.Kind, t.RetryCount, t.DeadLetterReason, t.ErrorMessage)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("filestore: append dead-letter log: %w", err)
	}
	return nil
}

// UpdateStatus loads the record wherever it currently lives and re-saves
// it under the new status.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status task.Status) error {
	s.mu.Lock()
	t, _, err := s.findLocked(taskID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	t.StatusUpdatedAt = time.Now()
	return s.Save(ctx, t, status)
}

func (s *Store) findLocked(taskID string) (*task.Task, string, error) {
	for _, name := range []string{pendingFile, completedFile, deadLetterFile} {
		records, err := s.readRecords(name)
		if err != nil {
			return nil, "", err
		}
		for _, r := range records {
			if r.ID == taskID {
				return r, name, nil
			}
		}
	}
	return nil, "", nil
}

// Delete removes taskID from whichever file currently holds it.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFromAll(taskID, "")
}

// LoadPending returns Pending/InProgress records ordered by created_at.
func (s *Store) LoadPending(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readRecords(pendingFile)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

// LoadDeadLetter returns DeadLetter records ordered by status_updated_at.
func (s *Store) LoadDeadLetter(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readRecords(deadLetterFile)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StatusUpdatedAt.Before(records[j].StatusUpdatedAt)
	})
	return records, nil
}

// Statistics recomputes counts from the three files and persists them to
// statistics.json, mirroring spec §6's file layout.
func (s *Store) Statistics(ctx context.Context) (persistence.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := persistence.Stats{GeneratedAt: time.Now()}
	pending, err := s.readRecords(pendingFile)
	if err != nil {
		return stats, err
	}
	for _, t := range pending {
		if t.Status == task.StatusInProgress {
			stats.InProgress++
		} else {
			stats.Pending++
		}
	}
	completed, err := s.readRecords(completedFile)
	if err != nil {
		return stats, err
	}
	for _, t := range completed {
		if t.Status == task.StatusFailed {
			stats.Failed++
		} else {
			stats.Completed++
		}
	}
	deadLetter, err := s.readRecords(deadLetterFile)
	if err != nil {
		return stats, err
	}
	stats.DeadLetter = len(deadLetter)
	stats.Total = stats.Pending + stats.InProgress + stats.Completed + stats.Failed + stats.DeadLetter

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("filestore: marshal statistics: %w", err)
	}
	target := s.path(statsFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return stats, fmt.Errorf("filestore: write statistics: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return stats, fmt.Errorf("filestore: rename statistics: %w", err)
	}
	return stats, nil
}

// CleanupOld removes Completed/Failed records older than cutoff from
// tasks_completed.json.
func (s *Store) CleanupOld(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords(completedFile)
	if err != nil {
		return 0, err
	}
	kept := records[:0:0]
	removed := 0
	for _, r := range records {
		if r.StatusUpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeRecords(completedFile, kept); err != nil {
		return 0, err
	}
	return removed, nil
}
