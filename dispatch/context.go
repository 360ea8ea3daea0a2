package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/queue"
)

// Context is everything a handler sees while it runs: the invocation
// snapshot, cancellation, the capture-backed logger, and the narrow set
// of store mutations a handler may perform.
type Context struct {
	ctx     context.Context
	inv     *queue.Invocation
	store   *queue.Store
	capture joblog.Capture
}

// NewContext assembles a handler context for one dispatch.
func NewContext(ctx context.Context, inv *queue.Invocation, store *queue.Store, capture joblog.Capture) *Context {
	return &Context{ctx: ctx, inv: inv, store: store, capture: capture}
}

// Context returns the cancellation context threaded from the worker.
// Handlers check it at their own suspension points.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Invocation returns the invocation snapshot being executed.
func (c *Context) Invocation() *queue.Invocation {
	return c.inv
}

// Payload returns the invocation's payload.
func (c *Context) Payload() queue.Payload {
	return c.inv.Payload
}

// Logger returns the capture-backed logger. Everything written here
// lands in the invocation's log artifact.
func (c *Context) Logger() *zap.SugaredLogger {
	if c.capture != nil {
		return c.capture.Logger()
	}
	return zap.NewNop().Sugar()
}

// Extend pushes the invocation's lease out by additionalTime. Long
// handlers call this before the lease expires so another worker does
// not re-dequeue the row mid-run.
func (c *Context) Extend(additionalTime time.Duration) error {
	return c.store.Extend(c.ctx, c.inv, additionalTime)
}

// Enqueue schedules a new invocation of another job. The new row is a
// fresh chain; it carries this invocation's id as its source.
func (c *Context) Enqueue(jobName string, payload queue.Payload, visibilityDelay time.Duration) (*queue.Invocation, error) {
	return c.store.Enqueue(c.ctx, jobName, c.inv.ID, payload, visibilityDelay)
}
