package sentinel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/cascade"
	"github.com/forgelabs/engine/internal/eventbus"
	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/ticket/tickettest"
	"github.com/forgelabs/engine/internal/vcs"
	"github.com/forgelabs/engine/internal/verify"
)

type scriptedVerifier struct {
	resp verify.Response
	err  error
}

func (v *scriptedVerifier) Verify(context.Context, verify.Request) (verify.Response, error) {
	return v.resp, v.err
}

type fakeHost struct {
	merged   bool
	mergeErr error
}

func (h *fakeHost) CreatePR(context.Context, vcs.CreatePRRequest) (vcs.PullRequest, error) {
	return vcs.PullRequest{}, nil
}
func (h *fakeHost) AddLabels(context.Context, string, int, []string) error { return nil }
func (h *fakeHost) MergePR(context.Context, string, int) (vcs.MergeResult, error) {
	if h.mergeErr != nil {
		return vcs.MergeResult{}, h.mergeErr
	}
	h.merged = true
	return vcs.MergeResult{Merged: true, SHA: "sha123"}, nil
}

type fakeBus struct {
	events []eventbus.Event
}

func (b *fakeBus) Publish(kind eventbus.Kind, ticketID, sessionID string, payload any) {
	b.events = append(b.events, eventbus.Event{Kind: kind, TicketID: ticketID, SessionID: sessionID, Payload: payload})
}

func newReadyTicket(store *tickettest.FakeStore) ticket.Ticket {
	store.PutProject(ticket.Project{ID: "proj-1", RepoURL: "https://github.com/acme/widget"})
	store.PutSession(ticket.Session{ID: "sess-1", ProjectID: "proj-1"})
	tk := ticket.Ticket{
		ID:            "t-1",
		DesignSession: "sess-1",
		ProjectID:     "proj-1",
		Title:         "Add greeting helper",
		State:         ticket.StateInReview,
		AssigneeID:    "sentinel-1",
		PRURL:         "https://github.com/acme/widget/pull/42",
	}
	store.Put(tk)
	return tk
}

func TestTick_MergesAndCascadesOnPass(t *testing.T) {
	store := tickettest.NewFakeStore()
	newReadyTicket(store)
	dep := ticket.Ticket{
		ID: "t-2", DesignSession: "sess-1", ProjectID: "proj-1",
		State: ticket.StateBlocked, DependsOn: []string{"t-1"},
	}
	store.Put(dep)

	verifier := &scriptedVerifier{resp: verify.Response{Status: verify.StatusPassed, ReadyForPR: true}}
	host := &fakeHost{}
	bus := &fakeBus{}
	cascadeRunner := cascade.New(store, zap.NewNop(), nil)

	r := New(store, verifier, host, bus, cascadeRunner, zap.NewNop(), nil, "sentinel-1", "worker-1", 5)
	r.tick(context.Background())

	got, err := store.GetTicket(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, ticket.StateMerged, got.State)
	assert.Equal(t, ticket.VerificationPassed, got.VerificationStatus)
	assert.True(t, host.merged)

	depGot, err := store.GetTicket(context.Background(), "t-2")
	require.NoError(t, err)
	assert.Equal(t, ticket.StateReady, depGot.State, "cascade should promote the dependent once t-1 merges")

	require.NotEmpty(t, bus.events)
}

func TestTick_RejectsOnVerifierFailure(t *testing.T) {
	store := tickettest.NewFakeStore()
	newReadyTicket(store)

	verifier := &scriptedVerifier{resp: verify.Response{Status: verify.StatusFailed, FeedbackForAgent: []string{"missing tests"}}}
	host := &fakeHost{}
	bus := &fakeBus{}

	r := New(store, verifier, host, bus, nil, zap.NewNop(), nil, "sentinel-1", "worker-1", 5)
	r.tick(context.Background())

	got, err := store.GetTicket(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, ticket.StateSentinelFailed, got.State)
	assert.Equal(t, ticket.VerificationSentinelReject, got.VerificationStatus)
	assert.False(t, host.merged)
}

func TestTick_NoOpWhenNothingReady(t *testing.T) {
	store := tickettest.NewFakeStore()
	verifier := &scriptedVerifier{}
	host := &fakeHost{}
	bus := &fakeBus{}

	r := New(store, verifier, host, bus, nil, zap.NewNop(), nil, "sentinel-1", "worker-1", 5)
	r.tick(context.Background())

	assert.Empty(t, bus.events)
}
