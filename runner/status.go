// Package runner owns the dispatch loop: one runner per worker, each
// pulling invocations off the store, executing them through the
// dispatcher, and committing the outcome.
package runner

import (
	"sync"
	"time"
)

// Status is the runner's position in its loop. Observers (metrics,
// admin surfaces) watch transitions through heartbeats.
type Status string

const (
	// StatusWorking is the resting state between loop iterations.
	StatusWorking Status = "working"
	// StatusDequeuing means the runner is asking the store for work.
	StatusDequeuing Status = "dequeuing"
	// StatusDispatching means a handler is executing.
	StatusDispatching Status = "dispatching"
	// StatusSleeping means the queue was empty and the runner waits a
	// poll interval.
	StatusSleeping Status = "sleeping"
	// StatusStopping is the terminal state of a clean shutdown.
	StatusStopping Status = "stopping"
	// StatusError is the terminal state after a fatal loop failure.
	StatusError Status = "error"
)

// Heartbeat is a status transition of one runner.
type Heartbeat struct {
	WorkerID            string    `json:"worker_id"`
	Status              Status    `json:"status"`
	CurrentInvocationID string    `json:"current_invocation_id,omitempty"`
	LastInvocationID    string    `json:"last_invocation_id,omitempty"`
	At                  time.Time `json:"at"`
}

// HeartbeatChannelBufferSize is the buffer size for heartbeat
// subscriber channels.
const HeartbeatChannelBufferSize = 100

// heartbeatHub fans status transitions out to subscribers with
// non-blocking sends; a slow subscriber misses beats rather than
// stalling the loop.
type heartbeatHub struct {
	mu          sync.Mutex
	subscribers []chan Heartbeat
}

func (h *heartbeatHub) Subscribe() chan Heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Heartbeat, HeartbeatChannelBufferSize)
	h.subscribers = append(h.subscribers, ch)
	return ch
}

func (h *heartbeatHub) Unsubscribe(ch chan Heartbeat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

func (h *heartbeatHub) notify(hb Heartbeat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- hb:
		default:
		}
	}
}
