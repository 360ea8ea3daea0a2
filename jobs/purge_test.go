package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/dispatch"
	conveyortest "github.com/parcelforge/conveyor/internal/testing"
	"github.com/parcelforge/conveyor/queue"
)

func TestPurgeInvocations(t *testing.T) {
	conn := conveyortest.CreateTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := queue.NewStore(conn, clk, nil)
	ctx := context.Background()

	// An old terminal row and a live queued row.
	old, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, nil, 0)
	require.NoError(t, err)
	leased, err := store.Dequeue(ctx, "w", time.Minute)
	require.NoError(t, err)
	require.Equal(t, old.ID, leased.ID)
	ok, err := store.Complete(ctx, leased, queue.ResultCompleted, "", "")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(48 * time.Hour)
	live, err := store.Enqueue(ctx, "Echo", queue.SourceBackgroundEnqueue, nil, time.Hour)
	require.NoError(t, err)

	desc := NewPurgeInvocationsDescription(store)
	handler := desc.New()

	// The binder drives retention and repeat period from the payload.
	payload := queue.NewPayload(map[string]string{
		"maxAge":   "PT24H",
		"interval": "PT1H",
	})
	require.NoError(t, dispatch.NewBinder(nil).Bind(handler, payload))

	inv := &queue.Invocation{ID: queue.NewID(), JobName: PurgeInvocationsJobName, Payload: payload}
	result := handler.Invoke(dispatch.NewContext(ctx, inv, store, nil))

	assert.Equal(t, dispatch.OutcomeCompleted, result.Outcome)
	assert.Equal(t, time.Hour, result.RescheduleIn, "purge reschedules itself")

	_, err = store.Get(ctx, old.ID)
	assert.Error(t, err, "expired terminal row is gone")

	kept, err := store.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, kept.Status)
}

func TestPurgeInvocationsDefaults(t *testing.T) {
	conn := conveyortest.CreateTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := queue.NewStore(conn, clk, nil)

	handler := NewPurgeInvocationsDescription(store).New()
	inv := &queue.Invocation{ID: queue.NewID(), JobName: PurgeInvocationsJobName}
	result := handler.Invoke(dispatch.NewContext(context.Background(), inv, store, nil))

	assert.Equal(t, dispatch.OutcomeCompleted, result.Outcome)
	assert.Equal(t, DefaultPurgeInterval, result.RescheduleIn)
}
