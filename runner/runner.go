package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/dispatch"
	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/logger"
	"github.com/parcelforge/conveyor/queue"
)

// DefaultPollInterval is how long a runner sleeps when the queue is
// empty.
const DefaultPollInterval = 10 * time.Second

// Options tune one runner.
type Options struct {
	// PollInterval between dequeue attempts on an empty queue.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Invisibility is the lease granted on dequeue. Defaults to
	// queue.DefaultInvisibility.
	Invisibility time.Duration

	// RateLimit gates dispatches when set.
	RateLimit *rate.Limiter

	// IncludeContinuationsInline makes a suspended invocation's
	// continuation run on this runner after a synchronous Delay instead
	// of going back through the queue. Test use only.
	IncludeContinuationsInline bool
}

// Runner is one worker's dispatch loop.
type Runner struct {
	id         string
	store      *queue.Store
	dispatcher *dispatch.Dispatcher
	captures   *joblog.Factory
	clock      clock.Clock
	log        *zap.SugaredLogger
	metrics    *Metrics
	opts       Options

	hub heartbeatHub

	mu        sync.RWMutex
	status    Status
	currentID string
	lastID    string
	runErr    error
}

// New builds a runner for one worker id.
func New(id string, store *queue.Store, dispatcher *dispatch.Dispatcher, captures *joblog.Factory, clk clock.Clock, log *zap.SugaredLogger, metrics *Metrics, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Invisibility <= 0 {
		opts.Invisibility = queue.DefaultInvisibility
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if captures == nil {
		captures = &joblog.Factory{Clock: clk}
	}
	return &Runner{
		id:         id,
		store:      store,
		dispatcher: dispatcher,
		captures:   captures,
		clock:      clk,
		log:        log.With(logger.FieldWorkerID, id),
		metrics:    metrics,
		opts:       opts,
		status:     StatusWorking,
	}
}

// Status returns the runner's current loop state.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Snapshot returns the runner's current heartbeat.
func (r *Runner) Snapshot() Heartbeat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Heartbeat{
		WorkerID:            r.id,
		Status:              r.status,
		CurrentInvocationID: r.currentID,
		LastInvocationID:    r.lastID,
		At:                  r.clock.Now(),
	}
}

// Err returns the fatal error that ended the loop, if any.
func (r *Runner) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runErr
}

// Subscribe returns a channel of heartbeats. Callers must Unsubscribe.
func (r *Runner) Subscribe() chan Heartbeat {
	return r.hub.Subscribe()
}

// Unsubscribe removes a heartbeat channel.
func (r *Runner) Unsubscribe(ch chan Heartbeat) {
	r.hub.Unsubscribe(ch)
}

func (r *Runner) setStatus(status Status) {
	r.mu.Lock()
	r.status = status
	hb := Heartbeat{
		WorkerID:            r.id,
		Status:              status,
		CurrentInvocationID: r.currentID,
		LastInvocationID:    r.lastID,
		At:                  r.clock.Now(),
	}
	r.mu.Unlock()

	r.metrics.SetWorkerStatus(r.id, status)
	r.hub.notify(hb)
}

// Run executes the dispatch loop until ctx is cancelled. A panic
// escaping the loop machinery itself (not handler panics, which the
// dispatcher contains) ends the runner in the Error state.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("runner panicked: %v", rec)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.mu.Lock()
			r.runErr = err
			r.mu.Unlock()
			r.setStatus(StatusError)
			r.log.Errorw("Runner stopped on fatal error", logger.FieldError, err)
			return
		}
		err = nil
		r.setStatus(StatusStopping)
	}()

	if n, err := r.store.ReinitializeInvocationState(ctx, r.id); err != nil {
		r.log.Warnw("Failed to reinitialize invocation state", logger.FieldError, err)
	} else if n > 0 {
		r.log.Infow("Requeued invocations from a previous run", logger.FieldCount, n)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		r.setStatus(StatusDequeuing)
		inv, err := r.store.Dequeue(ctx, r.id, r.opts.Invisibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Errorw("Failed to dequeue invocation", logger.FieldError, err)
			r.setStatus(StatusSleeping)
			if err := r.clock.Delay(ctx, r.opts.PollInterval); err != nil {
				return nil
			}
			continue
		}

		if inv == nil {
			r.setStatus(StatusSleeping)
			if err := r.clock.Delay(ctx, r.opts.PollInterval); err != nil {
				return nil
			}
			continue
		}

		// An admin may cancel a row between enqueue and dequeue; the
		// row is already terminal.
		if inv.Status == queue.StatusCancelled {
			r.log.Infow("Skipping cancelled invocation",
				logger.FieldInvocationID, inv.ID,
				logger.FieldJobName, inv.JobName,
			)
			continue
		}

		if r.opts.RateLimit != nil {
			if err := r.opts.RateLimit.Wait(ctx); err != nil {
				return nil
			}
		}

		r.mu.Lock()
		r.currentID = inv.ID
		r.mu.Unlock()
		r.setStatus(StatusDispatching)

		r.dispatchOne(ctx, inv)

		r.mu.Lock()
		r.lastID = inv.ID
		r.currentID = ""
		r.mu.Unlock()
		r.setStatus(StatusWorking)
	}
}

// dispatchOne takes one leased invocation through execute and commit.
func (r *Runner) dispatchOne(ctx context.Context, inv *queue.Invocation) {
	log := r.log.With(
		logger.FieldInvocationID, inv.ID,
		logger.FieldJobName, inv.JobName,
	)

	if inv.IsContinuation {
		log.Infow("Resumed invocation", logger.FieldSource, inv.Source)
	} else {
		log.Infow("Started invocation", logger.FieldDequeueCount, inv.DequeueCount)
	}

	ok, err := r.store.UpdateStatus(ctx, inv, queue.StatusExecuting, queue.ResultIncomplete)
	if err != nil {
		log.Errorw("Failed to mark invocation executing", logger.FieldError, err)
		return
	}
	if !ok {
		log.Infow("Aborted invocation; another worker advanced it")
		return
	}

	capture := r.captures.NewCapture(inv)
	if err := capture.Start(ctx); err != nil {
		// Capture trouble never blocks execution.
		log.Warnw("Failed to start log capture", logger.FieldError, err)
	}

	jctx := dispatch.NewContext(ctx, inv, r.store, capture)
	started := r.clock.Now()
	result := r.dispatcher.Dispatch(jctx)
	elapsed := r.clock.Now().Sub(started)
	r.metrics.RecordDispatch(elapsed.Seconds())

	if r.clock.Now().After(inv.NextVisibleAt) {
		log.Warnw("Invocation exceeded its lease",
			logger.FieldNextVisibleAt, inv.NextVisibleAt,
			logger.FieldDurationMS, elapsed.Milliseconds(),
		)
	}

	logURL, err := capture.End(ctx)
	if err != nil {
		log.Warnw("Failed to persist invocation log", logger.FieldError, err)
		logURL = ""
	}

	r.commit(ctx, log, inv, result, logURL)
}

// commit applies the outcome rule table: terminal results complete the
// row (optionally scheduling a repeat), suspensions hand the chain to a
// continuation row.
func (r *Runner) commit(ctx context.Context, log *zap.SugaredLogger, inv *queue.Invocation, result dispatch.Result, logURL string) {
	if result.Outcome == dispatch.OutcomeIncomplete {
		if result.Continuation == nil {
			// Programmer error in the handler.
			result = dispatch.Crashed(errors.New("incomplete result without continuation"))
		} else {
			r.suspend(ctx, log, inv, result.Continuation, logURL)
			return
		}
	}

	var terminal queue.Result
	switch result.Outcome {
	case dispatch.OutcomeCompleted:
		terminal = queue.ResultCompleted
	case dispatch.OutcomeFaulted:
		terminal = queue.ResultFaulted
	default:
		terminal = queue.ResultCrashed
	}

	message := ""
	if result.Err != nil {
		message = result.Err.Error()
	}

	ok, err := r.store.Complete(ctx, inv, terminal, message, logURL)
	if err != nil {
		log.Errorw("Failed to commit invocation result",
			logger.FieldResult, terminal,
			logger.FieldError, err,
		)
		return
	}
	if !ok {
		// Lease expired mid-run and another worker advanced the row.
		log.Infow("Dropped late commit", logger.FieldResult, terminal)
		return
	}

	r.metrics.RecordCommit(terminal)
	log.Infow("Committed invocation result",
		logger.FieldResult, terminal,
		logger.FieldLogURL, logURL,
	)

	if result.RescheduleIn > 0 && result.Outcome != dispatch.OutcomeCrashed {
		repeat, err := r.store.Enqueue(ctx, inv.JobName, queue.SourceRepeating, inv.Payload, result.RescheduleIn)
		if err != nil {
			log.Errorw("Failed to schedule repeat invocation",
				logger.FieldWaitPeriod, result.RescheduleIn,
				logger.FieldError, err,
			)
			return
		}
		log.Infow("Scheduled repeat invocation",
			logger.FieldInvocationID, repeat.ID,
			logger.FieldWaitPeriod, result.RescheduleIn,
		)
	}
}

func (r *Runner) suspend(ctx context.Context, log *zap.SugaredLogger, inv *queue.Invocation, cont *dispatch.Continuation, logURL string) {
	row, err := r.store.Suspend(ctx, inv, cont.Parameters, cont.WaitPeriod, logURL)
	if err != nil {
		log.Errorw("Failed to suspend invocation", logger.FieldError, err)
		return
	}
	if row == nil {
		log.Infow("Dropped late suspension; another worker advanced the row")
		return
	}

	log.Infow("Suspended invocation",
		logger.FieldInvocationID, row.ID,
		logger.FieldWaitPeriod, cont.WaitPeriod,
	)

	if r.opts.IncludeContinuationsInline {
		if err := r.clock.Delay(ctx, cont.WaitPeriod); err != nil {
			return
		}
		r.dispatchOne(ctx, row)
	}
}
