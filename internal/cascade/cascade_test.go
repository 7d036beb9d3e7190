package cascade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/ticket/tickettest"
)

func TestOnTicketDone_PromotesWhenAllDependenciesDone(t *testing.T) {
	store := tickettest.NewFakeStore()
	store.Put(ticket.Ticket{ID: "a", DesignSession: "sess-1", State: ticket.StateMerged})
	store.Put(ticket.Ticket{ID: "b", DesignSession: "sess-1", State: ticket.StateDone})
	store.Put(ticket.Ticket{ID: "c", DesignSession: "sess-1", State: ticket.StateBlocked, DependsOn: []string{"a", "b"}})

	r := New(store, zap.NewNop(), nil)
	promoted, err := r.OnTicketDone(context.Background(), "sess-1", "a", ticket.StateMerged)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, ticket.StateReady, store.Get("c").State)
}

func TestOnTicketDone_SkipsWhenSiblingDependencyStillPending(t *testing.T) {
	store := tickettest.NewFakeStore()
	store.Put(ticket.Ticket{ID: "a", DesignSession: "sess-1", State: ticket.StateMerged})
	store.Put(ticket.Ticket{ID: "b", DesignSession: "sess-1", State: ticket.StateInProgress})
	store.Put(ticket.Ticket{ID: "c", DesignSession: "sess-1", State: ticket.StateBlocked, DependsOn: []string{"a", "b"}})

	r := New(store, zap.NewNop(), nil)
	promoted, err := r.OnTicketDone(context.Background(), "sess-1", "a", ticket.StateMerged)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, ticket.StateBlocked, store.Get("c").State)
}

func TestOnTicketDone_NoOpForNonTerminalSuccessState(t *testing.T) {
	store := tickettest.NewFakeStore()
	r := New(store, zap.NewNop(), nil)
	promoted, err := r.OnTicketDone(context.Background(), "sess-1", "a", ticket.StateCancelled)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
}
