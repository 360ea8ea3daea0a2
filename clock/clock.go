// Package clock abstracts time for the scheduler core. Every component
// that reads the wall clock or sleeps takes a Clock so tests can drive
// time deterministically.
package clock

import (
	"context"
	"time"
)

// Clock provides UTC time and a cancellable sleep primitive.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time

	// Delay sleeps for d or until ctx is cancelled, whichever comes
	// first. Returns ctx.Err() when cancelled, nil when the full delay
	// elapsed.
	Delay(ctx context.Context, d time.Duration) error
}

// System is the real wall clock.
type System struct{}

// NewSystem returns the production clock.
func NewSystem() System {
	return System{}
}

func (System) Now() time.Time {
	return time.Now().UTC()
}

func (System) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honour cancellation for zero delays
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
