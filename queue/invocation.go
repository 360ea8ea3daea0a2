// Package queue implements the durable invocation store: a
// at-most-one-consumer queue over invocation rows with optimistic
// version concurrency, plus statistics and history queries.
package queue

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an invocation row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDequeued  Status = "dequeued"
	StatusExecuting Status = "executing"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExecuted  Status = "executed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusDequeued, StatusExecuting,
		StatusSuspended, StatusCancelled, StatusExecuted:
		return true
	default:
		return false
	}
}

// Result is the outcome of an invocation. It stays Incomplete until a
// terminal commit.
type Result string

const (
	ResultIncomplete Result = "incomplete"
	ResultCompleted  Result = "completed"
	ResultFaulted    Result = "faulted"
	ResultCrashed    Result = "crashed"
	ResultAborted    Result = "aborted"
	ResultCancelled  Result = "cancelled"
)

// IsTerminalResult reports whether r ends a chain.
func IsTerminalResult(r Result) bool {
	return r != "" && r != ResultIncomplete
}

// Provenance tags for Invocation.Source. A continuation row instead
// carries the hex id of the invocation that produced it.
const (
	SourceBackgroundEnqueue = "BackgroundEnqueue"
	SourceRepeating         = "RepeatingJob"
)

// Invocation is one durable record of a planned or attempted execution
// of a named job. Rows linked through Source by continuations form a
// chain; the chain ends when a terminal result is committed.
type Invocation struct {
	ID              string     `json:"id"` // 32-char lowercase hex of a 128-bit id
	JobName         string     `json:"job_name"`
	Source          string     `json:"source"`
	Payload         Payload    `json:"payload,omitempty"`
	Status          Status     `json:"status"`
	Result          Result     `json:"result"`
	ResultMessage   string     `json:"result_message,omitempty"`
	LogURL          string     `json:"log_url,omitempty"`
	IsContinuation  bool       `json:"is_continuation,omitempty"`
	DequeueCount    int        `json:"dequeue_count"`
	DequeuedBy      string     `json:"dequeued_by,omitempty"` // instance holding the current lease
	Version         int64      `json:"version"`
	QueuedAt        time.Time  `json:"queued_at"`
	NextVisibleAt   time.Time  `json:"next_visible_at"`
	LastDequeuedAt  *time.Time `json:"last_dequeued_at,omitempty"`
	LastSuspendedAt *time.Time `json:"last_suspended_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewID generates a fresh invocation id: the 32-char lowercase hex form
// of a random 128-bit UUID. Hex (rather than the dashed UUID form) keeps
// blob keys and Source references case-stable.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Terminal reports whether the row can no longer change: a committed
// outcome, an admin cancellation, or a suspension that handed the chain
// off to a continuation row.
func (inv *Invocation) Terminal() bool {
	switch inv.Status {
	case StatusExecuted, StatusCancelled:
		return true
	case StatusSuspended:
		return inv.CompletedAt != nil
	default:
		return false
	}
}
