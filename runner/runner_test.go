package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/blob"
	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/dispatch"
	conveyortest "github.com/parcelforge/conveyor/internal/testing"
	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/queue"
)

func newTestEnv(t *testing.T) (*queue.Store, *clock.Fake, *dispatch.Registry, *joblog.Factory) {
	t.Helper()
	conn := conveyortest.CreateTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := queue.NewStore(conn, clk, nil)
	reg := dispatch.NewRegistry()
	factory := &joblog.Factory{Base: zap.NewNop().Sugar(), Clock: clk}
	return store, clk, reg, factory
}

func newTestRunner(id string, store *queue.Store, clk *clock.Fake, reg *dispatch.Registry, factory *joblog.Factory, opts Options) *Runner {
	return New(id, store, dispatch.NewDispatcher(reg, nil), factory, clk, nil, nil, opts)
}

// waitFor drains heartbeats until one satisfies pred. Real-time
// timeout so a wedged loop fails the test instead of hanging it.
func waitFor(t *testing.T, ch chan Heartbeat, what string, pred func(Heartbeat) bool) Heartbeat {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case hb := <-ch:
			if pred(hb) {
				return hb
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// pump advances the fake clock whenever something is blocked on it,
// until done closes.
func pump(clk *clock.Fake, step time.Duration, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			if clk.Waiters() > 0 {
				clk.Advance(step)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

type echoJob struct {
	Message string `payload:"message"`
}

func (j *echoJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	jctx.Logger().Infow("Echoing", "message", j.Message)
	return dispatch.Completed()
}

func TestEchoEndToEnd(t *testing.T) {
	t.Log("An Echo invocation rides the full loop: dequeue, execute, capture, commit.")
	store, clk, reg, factory := newTestEnv(t)
	fs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	factory.Blobs = fs

	reg.Register(dispatch.Description{Name: "Echo", New: func() dispatch.Handler { return &echoJob{} }})

	ctx := context.Background()
	inv, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, queue.NewPayload(map[string]string{"message": "hi"}), 0)
	require.NoError(t, err)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{PollInterval: time.Second})
	hb := r.Subscribe()
	defer r.Unsubscribe(hb)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	waitFor(t, hb, "echo commit", func(h Heartbeat) bool {
		return h.Status == StatusWorking && h.LastInvocationID == inv.ID
	})
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StatusStopping, r.Status())

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusExecuted, got.Status)
	assert.Equal(t, queue.ResultCompleted, got.Result)
	assert.Equal(t, "w-0", got.DequeuedBy)
	assert.True(t, strings.HasPrefix(got.LogURL, "file://"), "log artifact url, got %q", got.LogURL)

	// The captured artifact holds the handler's log line.
	body, err := fs.Get(ctx, joblog.ArtifactKey(inv.ID))
	require.NoError(t, err)
	events, err := joblog.DecodeEvents(body)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "Echoing", events[0].Message)
}

func TestRunnerSleepsWhenEmptyAndWakes(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "Echo", New: func() dispatch.Handler { return &echoJob{} }})

	r := newTestRunner("w-0", store, clk, reg, factory, Options{PollInterval: 10 * time.Second})
	hb := r.Subscribe()
	defer r.Unsubscribe(hb)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	waitFor(t, hb, "sleep on empty queue", func(h Heartbeat) bool { return h.Status == StatusSleeping })

	inv, err := store.Enqueue(context.Background(), "Echo", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	// Release the poll sleep once the runner is actually parked on it.
	for clk.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	clk.Advance(10 * time.Second)

	waitFor(t, hb, "wake and dispatch", func(h Heartbeat) bool {
		return h.Status == StatusWorking && h.LastInvocationID == inv.ID
	})

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StatusStopping, r.Status(), "cancellation during sleep ends the loop cleanly")
}

type stepJob struct {
	Cursor int `payload:"cursor"`
}

func (j *stepJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	cont, err := dispatch.ContinuationFromOptions(time.Minute, struct {
		Cursor int `payload:"cursor"`
	}{Cursor: j.Cursor + 1})
	if err != nil {
		return dispatch.Crashed(err)
	}
	return dispatch.Suspended(cont)
}

func (j *stepJob) InvokeContinuation(jctx *dispatch.Context) dispatch.Result {
	if j.Cursor < 2 {
		return j.Invoke(jctx)
	}
	return dispatch.Completed()
}

func TestStepJobSuspendsAndResumesInline(t *testing.T) {
	t.Log("StepJob suspends twice and completes on its third leg, all on one worker.")
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "StepJob", New: func() dispatch.Handler { return &stepJob{} }})

	ctx := context.Background()
	first, err := store.Enqueue(ctx, "StepJob", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{IncludeContinuationsInline: true})
	inv, err := store.Dequeue(ctx, "w-0", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, inv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.dispatchOne(ctx, inv)
	}()
	pump(clk, time.Minute, done)

	rows, err := store.GetByJob(ctx, "StepJob", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3, "original plus two continuation legs")

	var terminalLeg *queue.Invocation
	sources := map[string]bool{}
	for _, row := range rows {
		assert.NotNil(t, row.CompletedAt, "every leg of the chain ends terminal")
		if row.Status == queue.StatusExecuted {
			terminalLeg = row
		}
		if row.IsContinuation {
			sources[row.Source] = true
		}
	}
	require.NotNil(t, terminalLeg, "exactly one leg commits Executed")
	assert.Equal(t, queue.ResultCompleted, terminalLeg.Result)
	assert.True(t, terminalLeg.IsContinuation)
	if v, ok := terminalLeg.Payload.Get("cursor"); assert.True(t, ok) {
		assert.Equal(t, "2", v)
	}

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSuspended, got.Status)
	assert.NotNil(t, got.CompletedAt, "suspended prior leg handed off")
	assert.True(t, sources[first.ID], "a continuation points back at the first leg")
}

type tickJob struct {
	Interval time.Duration `payload:"interval"`
}

func (j *tickJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	return dispatch.CompletedAndRescheduleIn(j.Interval)
}

func TestTickJobSchedulesRepeat(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "TickJob", New: func() dispatch.Handler { return &tickJob{} }})

	ctx := context.Background()
	payload := queue.NewPayload(map[string]string{"interval": "PT1H"})
	_, err := store.Enqueue(ctx, "TickJob", queue.SourceRepeating, payload, 0)
	require.NoError(t, err)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{})
	inv, err := store.Dequeue(ctx, "w-0", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, inv)
	r.dispatchOne(ctx, inv)

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusExecuted, got.Status)
	assert.Equal(t, queue.ResultCompleted, got.Result)

	rows, err := store.GetByJob(ctx, "TickJob", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var repeat *queue.Invocation
	for _, row := range rows {
		if row.ID != inv.ID {
			repeat = row
		}
	}
	require.NotNil(t, repeat)
	assert.Equal(t, queue.SourceRepeating, repeat.Source)
	assert.Equal(t, queue.StatusQueued, repeat.Status)
	assert.False(t, repeat.IsContinuation, "repeats start a fresh chain")
	assert.True(t, repeat.NextVisibleAt.Equal(clk.Now().Add(time.Hour)), "repeat waits its interval, got %v", repeat.NextVisibleAt)
	if v, ok := repeat.Payload.Get("interval"); assert.True(t, ok) {
		assert.Equal(t, "PT1H", v, "repeat carries the payload forward")
	}
}

type boomJob struct{}

func (boomJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	panic("boom job detonated")
}

func TestBoomJobCommitsCrashed(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "BoomJob", New: func() dispatch.Handler { return boomJob{} }})

	ctx := context.Background()
	_, err := store.Enqueue(ctx, "BoomJob", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{})
	inv, err := store.Dequeue(ctx, "w-0", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, inv)
	r.dispatchOne(ctx, inv)

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusExecuted, got.Status)
	assert.Equal(t, queue.ResultCrashed, got.Result)
	assert.Contains(t, got.ResultMessage, "boom job detonated")
}

type forgetfulJob struct{}

func (forgetfulJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	// Claims to be incomplete but provides nothing to resume with.
	return dispatch.Result{Outcome: dispatch.OutcomeIncomplete}
}

func TestIncompleteWithoutContinuationCommitsCrashed(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "Forgetful", New: func() dispatch.Handler { return forgetfulJob{} }})

	ctx := context.Background()
	_, err := store.Enqueue(ctx, "Forgetful", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{})
	inv, err := store.Dequeue(ctx, "w-0", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, inv)
	r.dispatchOne(ctx, inv)

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.ResultCrashed, got.Result)
	assert.Equal(t, "incomplete result without continuation", got.ResultMessage)
}

type slowJob struct {
	started chan struct{}
	release chan struct{}
}

func (j *slowJob) Invoke(jctx *dispatch.Context) dispatch.Result {
	close(j.started)
	<-j.release
	return dispatch.Completed()
}

func TestSlowJobLateCommitDropped(t *testing.T) {
	t.Log("Worker A overruns its lease; worker B re-leases and commits; A's commit is dropped.")
	conn := conveyortest.CreateTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	storeA := queue.NewStore(conn, clk, nil)
	storeB := queue.NewStore(conn, clk, nil)

	job := &slowJob{started: make(chan struct{}), release: make(chan struct{})}
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Description{Name: "SlowJob", New: func() dispatch.Handler { return job }})
	factory := &joblog.Factory{Base: zap.NewNop().Sugar(), Clock: clk}

	ctx := context.Background()
	_, err := storeA.Enqueue(ctx, "SlowJob", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	r := newTestRunner("w-a", storeA, clk, reg, factory, Options{})
	inv, err := storeA.Dequeue(ctx, "w-a", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, inv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.dispatchOne(ctx, inv)
	}()

	<-job.started
	clk.Advance(45 * time.Minute)

	// The lease expired mid-run; worker B takes the row over and
	// commits first.
	stolen, err := storeB.Dequeue(ctx, "w-b", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, stolen, "expired lease must be re-dequeueable")
	require.Equal(t, inv.ID, stolen.ID)
	ok, err := storeB.Complete(ctx, stolen, queue.ResultFaulted, "taken over", "")
	require.NoError(t, err)
	require.True(t, ok)

	close(job.release)
	<-done

	// A's commit lost the version race; B's terminal state stands.
	got, err := storeA.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusExecuted, got.Status)
	assert.Equal(t, queue.ResultFaulted, got.Result)
	assert.Equal(t, "taken over", got.ResultMessage)
}

func TestRunnerSkipsCancelledRow(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "Echo", New: func() dispatch.Handler { return &echoJob{} }})

	ctx := context.Background()
	inv, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)
	ok, err := store.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, ok)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{PollInterval: time.Second})
	hb := r.Subscribe()
	defer r.Unsubscribe(hb)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	// The cancelled row is terminal; the runner finds nothing to do.
	waitFor(t, hb, "sleep past cancelled row", func(h Heartbeat) bool { return h.Status == StatusSleeping })
	cancel()
	require.NoError(t, <-done)

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)
	assert.Equal(t, queue.ResultCancelled, got.Result)
	assert.Zero(t, got.DequeueCount, "cancelled rows are never executed")
}

func TestReinitializeOnStart(t *testing.T) {
	store, clk, reg, factory := newTestEnv(t)
	reg.Register(dispatch.Description{Name: "Echo", New: func() dispatch.Handler { return &echoJob{} }})

	ctx := context.Background()
	inv, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	// Simulate a crashed previous run of this worker: row leased,
	// never committed.
	leased, err := store.Dequeue(ctx, "w-0", 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, inv.ID, leased.ID)

	r := newTestRunner("w-0", store, clk, reg, factory, Options{PollInterval: time.Second})
	hb := r.Subscribe()
	defer r.Unsubscribe(hb)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	// Without waiting out the 30 minute lease, the restarted worker
	// reclaims and runs its own orphaned row.
	waitFor(t, hb, "orphan reclaimed and executed", func(h Heartbeat) bool {
		return h.Status == StatusWorking && h.LastInvocationID == inv.ID
	})
	cancel()
	require.NoError(t, <-done)

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.ResultCompleted, got.Result)
}
