// Package dispatch resolves a dequeued invocation to its handler, binds
// the payload onto it, and runs it to a Result the runner can commit.
package dispatch

import (
	"time"

	"github.com/parcelforge/conveyor/queue"
)

// Outcome classifies how a handler invocation ended.
type Outcome string

const (
	// OutcomeCompleted is a successful run.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFaulted is a failure the handler reported deliberately.
	OutcomeFaulted Outcome = "faulted"
	// OutcomeCrashed is an unexpected failure: panic, unknown job,
	// binding error.
	OutcomeCrashed Outcome = "crashed"
	// OutcomeIncomplete means the handler suspended and expects to be
	// resumed through its Continuation.
	OutcomeIncomplete Outcome = "incomplete"
)

// Continuation describes how a suspended invocation resumes: when it
// becomes eligible again and the state its next leg starts from.
type Continuation struct {
	WaitPeriod time.Duration
	Parameters queue.Payload
}

// Result is what a handler hands back to the runner. RescheduleIn
// starts a fresh invocation chain after a terminal outcome;
// Continuation continues the current chain. The two never combine.
type Result struct {
	Outcome      Outcome
	Err          error
	RescheduleIn time.Duration
	Continuation *Continuation
}

// Completed reports a successful one-shot run.
func Completed() Result {
	return Result{Outcome: OutcomeCompleted}
}

// CompletedAndRescheduleIn reports success and asks for a fresh
// invocation of the same job after d. Repeating jobs return this.
func CompletedAndRescheduleIn(d time.Duration) Result {
	return Result{Outcome: OutcomeCompleted, RescheduleIn: d}
}

// Faulted reports a deliberate, terminal failure.
func Faulted(err error) Result {
	return Result{Outcome: OutcomeFaulted, Err: err}
}

// FaultedAndRescheduleIn reports a failure but keeps the repeat
// schedule alive.
func FaultedAndRescheduleIn(err error, d time.Duration) Result {
	return Result{Outcome: OutcomeFaulted, Err: err, RescheduleIn: d}
}

// Crashed reports an unexpected failure.
func Crashed(err error) Result {
	return Result{Outcome: OutcomeCrashed, Err: err}
}

// Suspended reports that the invocation should sleep and resume later
// with cont's parameters as its payload.
func Suspended(cont Continuation) Result {
	return Result{Outcome: OutcomeIncomplete, Continuation: &cont}
}
