package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/heartbeat"
	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/ticket/tickettest"
)

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	done     chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, t ticket.Ticket) {
	f.mu.Lock()
	f.executed = append(f.executed, t.ID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func TestTick_ClaimsAndSpawnsUpToCapacity(t *testing.T) {
	store := tickettest.NewFakeStore()
	now := time.Now()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		store.Put(ticket.Ticket{
			ID: id, State: ticket.StateReady,
			AssigneeKind: ticket.AssigneeAgent, AssigneeID: ticket.RoleForgeAgent,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	exec := &fakeExecutor{done: make(chan struct{}, 3)}
	r := New(store, zap.NewNop(), nil, exec, heartbeat.NewInFlightTracker(), ticket.RoleForgeAgent, 2)

	r.tick(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(time.Second):
			t.Fatal("executor was not invoked in time")
		}
	}

	exec.mu.Lock()
	n := len(exec.executed)
	exec.mu.Unlock()
	assert.Equal(t, 2, n, "only maxConcurrent tickets should be claimed in one tick")
}

func TestTick_ConflictingTicketIsReleasedNotSpawned(t *testing.T) {
	store := tickettest.NewFakeStore()
	now := time.Now()
	hb := now
	worker := "w-1"
	store.Put(ticket.Ticket{
		ID: "in-flight", State: ticket.StateInProgress,
		AssigneeKind: ticket.AssigneeAgent, AssigneeID: ticket.RoleForgeAgent,
		WorkerID: &worker, LastHeartbeat: &hb,
		HintFiles: []string{"internal/cascade/cascade.go"},
		CreatedAt: now,
	})
	store.Put(ticket.Ticket{
		ID: "conflicting", State: ticket.StateReady,
		AssigneeKind: ticket.AssigneeAgent, AssigneeID: ticket.RoleForgeAgent,
		HintFiles: []string{"internal/cascade/cascade.go"},
		CreatedAt: now.Add(time.Second),
	})

	exec := &fakeExecutor{}
	r := New(store, zap.NewNop(), nil, exec, heartbeat.NewInFlightTracker(), ticket.RoleForgeAgent, 4)

	r.tick(context.Background())
	r.wg.Wait()

	assert.Empty(t, exec.executed, "a conflicting ticket must not be spawned in the same tick")

	got, err := store.GetTicket(context.Background(), "conflicting")
	require.NoError(t, err)
	assert.Equal(t, ticket.StateReady, got.State, "the conflicting ticket's claim should be released back to ready")
	assert.Nil(t, got.WorkerID)
}

func TestTick_NoOpOnEmptyQueue(t *testing.T) {
	store := tickettest.NewFakeStore()
	exec := &fakeExecutor{}
	r := New(store, zap.NewNop(), nil, exec, heartbeat.NewInFlightTracker(), ticket.RoleForgeAgent, 4)
	r.tick(context.Background())
	r.wg.Wait()
	require.Empty(t, exec.executed)
}
