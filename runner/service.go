package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/dispatch"
	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/logger"
	"github.com/parcelforge/conveyor/queue"
)

// DefaultStopTimeout bounds how long Stop waits for workers to finish
// their current invocation.
const DefaultStopTimeout = 30 * time.Second

// ServiceConfig sizes the worker fleet.
type ServiceConfig struct {
	// Instance is this process's identity; workers advertise
	// "<instance>-<n>".
	Instance string

	// Workers is the fleet size. Defaults to 1.
	Workers int

	// StopTimeout bounds graceful shutdown. Defaults to
	// DefaultStopTimeout.
	StopTimeout time.Duration

	// Runner carries the per-runner options.
	Runner Options
}

// Service runs a fleet of workers over one store.
type Service struct {
	cfg        ServiceConfig
	store      *queue.Store
	dispatcher *dispatch.Dispatcher
	captures   *joblog.Factory
	clock      clock.Clock
	log        *zap.SugaredLogger
	metrics    *Metrics

	mu      sync.Mutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService assembles a service; Start spawns the workers.
func NewService(cfg ServiceConfig, store *queue.Store, dispatcher *dispatch.Dispatcher, captures *joblog.Factory, clk clock.Clock, log *zap.SugaredLogger, metrics *Metrics) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		captures:   captures,
		clock:      clk,
		log:        log,
		metrics:    metrics,
	}
}

// Start spawns the worker fleet. Idempotent only after Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.workers = make([]*Worker, 0, s.cfg.Workers)

	for i := 0; i < s.cfg.Workers; i++ {
		id := fmt.Sprintf("%s-%d", s.cfg.Instance, i)
		r := New(id, s.store, s.dispatcher, s.captures, s.clock, s.log, s.metrics, s.cfg.Runner)
		w := newWorker(id, r)
		s.workers = append(s.workers, w)

		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			defer close(w.done)
			if err := w.Runner.Run(runCtx); err != nil {
				s.log.Errorw("Worker exited with error",
					logger.FieldWorkerID, w.ID,
					logger.FieldError, err,
				)
			}
		}(w)
	}

	s.log.Infow("Started worker fleet",
		logger.FieldInstance, s.cfg.Instance,
		logger.FieldCount, s.cfg.Workers,
	)
}

// Stop cancels the fleet and waits up to StopTimeout for workers to
// finish their current invocation. Workers still running after the
// timeout keep draining in the background; their rows re-lease after
// visibility expiry if the process dies first.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Infow("Worker fleet stopped cleanly")
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warnw("Worker fleet stop timed out; workers may still be draining",
			"timeout", s.cfg.StopTimeout,
		)
	}
}

// StatusSnapshot reports each worker's current heartbeat.
func (s *Service) StatusSnapshot() []Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Heartbeat, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Runner.Snapshot())
	}
	return out
}

// Workers returns the current fleet.
func (s *Service) Workers() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Worker, len(s.workers))
	copy(out, s.workers)
	return out
}
