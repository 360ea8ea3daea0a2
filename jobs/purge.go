// Package jobs holds the built-in maintenance jobs conveyord registers
// on every instance.
package jobs

import (
	"time"

	"github.com/parcelforge/conveyor/dispatch"
	"github.com/parcelforge/conveyor/queue"
)

const (
	// PurgeInvocationsJobName is the registered name of the purge job.
	PurgeInvocationsJobName = "PurgeInvocations"

	// DefaultPurgeMaxAge keeps a day of terminal history.
	DefaultPurgeMaxAge = 24 * time.Hour

	// DefaultPurgeInterval re-runs the purge hourly.
	DefaultPurgeInterval = time.Hour
)

// PurgeInvocations is a repeating job that deletes terminal invocation
// rows older than MaxAge, keeping the queue table bounded.
type PurgeInvocations struct {
	// MaxAge is how long terminal rows are retained.
	MaxAge time.Duration `payload:"maxAge"`

	// Interval is the repeat period.
	Interval time.Duration `payload:"interval"`

	store *queue.Store
}

// NewPurgeInvocationsDescription wires the job against a store.
func NewPurgeInvocationsDescription(store *queue.Store) dispatch.Description {
	return dispatch.Description{
		Name: PurgeInvocationsJobName,
		New: func() dispatch.Handler {
			return &PurgeInvocations{store: store}
		},
	}
}

// Invoke deletes expired terminal rows and reschedules itself.
func (j *PurgeInvocations) Invoke(jctx *dispatch.Context) dispatch.Result {
	maxAge := j.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultPurgeMaxAge
	}
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}

	n, err := j.store.PurgeTerminal(jctx.Context(), maxAge)
	if err != nil {
		// Transient store trouble; the repeat schedule keeps the purge
		// alive.
		return dispatch.FaultedAndRescheduleIn(err, interval)
	}
	if n > 0 {
		jctx.Logger().Infow("Purged terminal invocations", "count", n, "max_age", maxAge)
	}
	return dispatch.CompletedAndRescheduleIn(interval)
}
