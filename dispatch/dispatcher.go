package dispatch

import (
	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/logger"
)

// Dispatcher turns an invocation into a Result: registry lookup,
// handler construction, payload binding, Invoke. Everything that can go
// wrong inside a handler is contained here and reported as a crashed
// Result rather than an error.
type Dispatcher struct {
	registry *Registry
	binder   *Binder
	log      *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(registry *Registry, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		registry: registry,
		binder:   NewBinder(log),
		log:      log,
	}
}

// Dispatch runs the handler for jctx's invocation. Panics in handler
// code are recovered into a crashed Result so one bad handler cannot
// take the worker down.
func (d *Dispatcher) Dispatch(jctx *Context) (result Result) {
	inv := jctx.Invocation()

	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("Handler panicked",
				logger.FieldInvocationID, inv.ID,
				logger.FieldJobName, inv.JobName,
				"panic", r,
			)
			result = Crashed(errors.Newf("handler panicked: %v", r))
		}
	}()

	desc, ok := d.registry.Lookup(inv.JobName)
	if !ok {
		return Crashed(errors.Newf("unknown job %q", inv.JobName))
	}

	handler := desc.New()
	if err := d.binder.Bind(handler, inv.Payload); err != nil {
		return Crashed(err)
	}

	if inv.IsContinuation {
		if ch, ok := handler.(ContinuationHandler); ok {
			return ch.InvokeContinuation(jctx)
		}
	}
	return handler.Invoke(jctx)
}
