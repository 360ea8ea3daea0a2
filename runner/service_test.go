package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/dispatch"
	conveyortest "github.com/parcelforge/conveyor/internal/testing"
	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/queue"
)

func TestServiceRunsWorkerFleet(t *testing.T) {
	conn := conveyortest.CreateTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := queue.NewStore(conn, clk, nil)
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Description{Name: "Echo", New: func() dispatch.Handler { return &echoJob{} }})
	factory := &joblog.Factory{Base: zap.NewNop().Sugar(), Clock: clk}

	ctx := context.Background()
	inv, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)

	svc := NewService(ServiceConfig{
		Instance:    "reg-1",
		Workers:     2,
		StopTimeout: 5 * time.Second,
		Runner:      Options{PollInterval: time.Second},
	}, store, dispatch.NewDispatcher(reg, nil), factory, clk, nil, nil)

	svc.Start(ctx)

	workers := svc.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, "reg-1-0", workers[0].ID)
	assert.Equal(t, "reg-1-1", workers[1].ID)

	// Exactly one worker picks the row up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := store.Get(ctx, inv.ID)
		require.NoError(t, err)
		if got.Status == queue.StatusExecuted {
			assert.Equal(t, queue.ResultCompleted, got.Result)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("invocation never committed: %s/%s", got.Status, got.Result)
		}
		time.Sleep(time.Millisecond)
	}

	svc.Stop()

	snapshot := svc.StatusSnapshot()
	require.Len(t, snapshot, 2)
	for _, hb := range snapshot {
		assert.Equal(t, StatusStopping, hb.Status, "worker %s", hb.WorkerID)
	}
}

func TestServiceStopWithoutStart(t *testing.T) {
	svc := NewService(ServiceConfig{Instance: "idle"}, nil, nil, nil, clock.NewFake(time.Now()), nil, nil)
	svc.Stop()
	assert.Empty(t, svc.StatusSnapshot())
}
