package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/ticket/tickettest"
)

func TestRunHeartbeatOnce_SkipsWhenNothingInFlight(t *testing.T) {
	store := tickettest.NewFakeStore()
	r := New(store, zap.NewNop(), nil, NewInFlightTracker(), time.Second, time.Second, time.Minute)
	n, err := r.RunHeartbeatOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunHeartbeatOnce_UpdatesTrackedTickets(t *testing.T) {
	store := tickettest.NewFakeStore()
	now := time.Now()
	worker := "worker-1"
	store.Put(ticket.Ticket{ID: "t-1", State: ticket.StateInProgress, WorkerID: &worker, LastHeartbeat: &now})

	inFlight := NewInFlightTracker()
	inFlight.Add("t-1")

	r := New(store, zap.NewNop(), nil, inFlight, time.Second, time.Second, time.Minute)
	n, err := r.RunHeartbeatOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Get("t-1").HeartbeatCount)
}

func TestRunReapOnce_ReclaimsStaleInProgressToReady(t *testing.T) {
	store := tickettest.NewFakeStore()
	stale := time.Now().Add(-time.Hour)
	worker := "worker-1"
	store.Put(ticket.Ticket{ID: "t-1", State: ticket.StateInProgress, WorkerID: &worker, LastHeartbeat: &stale})

	inFlight := NewInFlightTracker()
	inFlight.Add("t-1")

	var hookedTo ticket.State
	r := New(store, zap.NewNop(), nil, inFlight, time.Second, time.Second, time.Minute,
		WithCascadeHook(func(ctx context.Context, ticketID string, to ticket.State) { hookedTo = to }))

	n, err := r.RunReapOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ticket.StateReady, store.Get("t-1").State)
	assert.Nil(t, store.Get("t-1").WorkerID)
	assert.Equal(t, ticket.StateReady, hookedTo)
	assert.Empty(t, inFlight.Snapshot())
}

func TestRunReapOnce_ReclaimsStaleReviewingToInReview(t *testing.T) {
	store := tickettest.NewFakeStore()
	stale := time.Now().Add(-time.Hour)
	worker := "sentinel-worker"
	store.Put(ticket.Ticket{ID: "t-2", State: ticket.StateReviewing, WorkerID: &worker, LastHeartbeat: &stale, PRURL: "https://example.com/pr/1"})

	r := New(store, zap.NewNop(), nil, NewInFlightTracker(), time.Second, time.Second, time.Minute)
	n, err := r.RunReapOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ticket.StateInReview, store.Get("t-2").State)
}
