// Package task defines the Task domain model and its status state
// machine, per spec §3. The shape is grounded on the other examples'
// task/job records (e.g. podushkina-taskqueue, gnotnek-golang-redisq) but
// the state machine and field set follow spec §3 exactly — retry_count,
// last_retry_at, client_id and status_updated_at are not present in any
// single example and are assembled here to match the spec's invariants.
package task

import "time"

// Status is one of the five closed states a Task moves through.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusInProgress  Status = "InProgress"
	StatusCompleted   Status = "Completed"
	StatusFailed      Status = "Failed"
	StatusDeadLetter  Status = "DeadLetter"
)

// Kind is a capability tag a worker must declare to receive a task of
// that kind. The set is open-ended; CheckPrime and HashText are the two
// kinds the reference worker implements.
type Kind string

const (
	KindCheckPrime Kind = "CheckPrime"
	KindHashText   Kind = "HashText"
)

// Task is the full persisted record for one unit of work.
type Task struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	Payload          string     `json:"payload"`
	RetryCount       int        `json:"retry_count"`
	CreatedAt        time.Time  `json:"created_at"`
	LastRetryAt      *time.Time `json:"last_retry_at,omitempty"`
	Status           Status     `json:"status"`
	StatusUpdatedAt  time.Time  `json:"status_updated_at"`
	ClientID         string     `json:"client_id,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	DeadLetterReason string     `json:"dead_letter_reason,omitempty"`
}

// Dead-letter reasons distinguishing the two paths that feed the
// dead-letter queue: exhausted retries versus no capable worker.
const (
	ReasonMaxRetriesExceeded = "max_retries_exceeded"
	ReasonNoCapableWorker    = "no_capable_worker"
)

// New creates a freshly-submitted task: Pending, retry_count 0, stamped
// with now for both created_at and status_updated_at (invariant: the two
// timestamps coincide only at creation; status_updated_at moves on every
// later transition while created_at is immutable per spec §3).
func New(id string, kind Kind, payload string, now time.Time) *Task {
	return &Task{
		ID:              id,
		Kind:            kind,
		Payload:         payload,
		RetryCount:      0,
		CreatedAt:       now,
		Status:          StatusPending,
		StatusUpdatedAt: now,
	}
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// lock that guards the original (pointer fields are value-copied).
func (t *Task) Clone() *Task {
	c := *t
	if t.LastRetryAt != nil {
		lr := *t.LastRetryAt
		c.LastRetryAt = &lr
	}
	return &c
}

// MarkInProgress transitions Pending -> InProgress, recording the
// assigned worker id. Spec §4.4 send_task persists this before the
// socket write.
func (t *Task) MarkInProgress(clientID string, now time.Time) {
	t.Status = StatusInProgress
	t.ClientID = clientID
	t.StatusUpdatedAt = now
}

// MarkTerminal transitions InProgress -> Completed or Failed on receipt
// of a worker Result. Negative results are terminal, never retried
// (spec §7: "Retries are reserved for worker-side crashes").
func (t *Task) MarkTerminal(success bool, resultData string, now time.Time) {
	if success {
		t.Status = StatusCompleted
		t.ErrorMessage = ""
	} else {
		t.Status = StatusFailed
		t.ErrorMessage = resultData
	}
	t.ClientID = ""
	t.StatusUpdatedAt = now
}

// RetryOrDeadLetter increments retry_count and either returns the task to
// Pending (if still under maxRetries) or moves it to DeadLetter. It
// reports which happened so callers know which queue to push onto.
func (t *Task) RetryOrDeadLetter(maxRetries int, now time.Time) (deadLettered bool) {
	t.RetryCount++
	t.LastRetryAt = &now
	t.ClientID = ""
	if t.RetryCount < maxRetries {
		t.Status = StatusPending
		t.StatusUpdatedAt = now
		return false
	}
	t.Status = StatusDeadLetter
	t.StatusUpdatedAt = now
	t.DeadLetterReason = ReasonMaxRetriesExceeded
	return true
}

// Requeue resets a dead-lettered task back to Pending with retry_count
// reset to 0, per the operator's reprocess-deadletter command (spec §4.9).
func (t *Task) Requeue(now time.Time) {
	t.Status = StatusPending
	t.RetryCount = 0
	t.LastRetryAt = nil
	t.ClientID = ""
	t.DeadLetterReason = ""
	t.StatusUpdatedAt = now
}

// IsTerminal reports whether the task has reached Completed or Failed,
// the only statuses eligible for retention-driven cleanup (spec §4.1).
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
