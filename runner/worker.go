package runner

// Worker binds one runner to one goroutine. The service owns its
// lifecycle; the worker itself is just the pairing of an id and loop.
type Worker struct {
	ID     string
	Runner *Runner

	done chan struct{}
}

func newWorker(id string, r *Runner) *Worker {
	return &Worker{ID: id, Runner: r, done: make(chan struct{})}
}

// Done closes when the worker's loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
