// Package tickettest provides an in-memory ticket.Store fake for exercising
// the Engine's components without a Postgres instance, mirroring the
// teacher's habit of testing orchestrator.go's stage functions against the
// in-process kanban store rather than a live database.
package tickettest

import (
	"context"
	"sync"
	"time"

	"github.com/forgelabs/engine/internal/ticket"
)

// FakeStore is a minimal, single-process, lock-guarded ticket.Store. It does
// not reproduce SKIP LOCKED semantics under real concurrency; it exists to
// exercise call sequencing and state transitions in unit tests.
type FakeStore struct {
	mu       sync.Mutex
	tickets  map[string]ticket.Ticket
	events   map[string][]ticket.Event
	projects map[string]ticket.Project
	sessions map[string]ticket.Session
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		tickets:  map[string]ticket.Ticket{},
		events:   map[string][]ticket.Event{},
		projects: map[string]ticket.Project{},
		sessions: map[string]ticket.Session{},
	}
}

// Put inserts or overwrites a ticket directly, bypassing state-machine checks
// — test setup only.
func (f *FakeStore) Put(t ticket.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[t.ID] = t
}

// Get returns the current snapshot of a ticket by id, or the zero value if absent.
func (f *FakeStore) Get(id string) ticket.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[id]
}

func (f *FakeStore) PutProject(p ticket.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
}

func (f *FakeStore) PutSession(s ticket.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
}

func (f *FakeStore) GetTicket(_ context.Context, id string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (f *FakeStore) GetTicketsByState(_ context.Context, state ticket.State) ([]ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range f.tickets {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeStore) GetTicketsBySession(_ context.Context, sessionID string) ([]ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range f.tickets {
		if t.DesignSession == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeStore) GetEvents(_ context.Context, ticketID string) ([]ticket.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ticket.Event(nil), f.events[ticketID]...), nil
}

func (f *FakeStore) CreateTicket(_ context.Context, t *ticket.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.State == "" {
		t.State = ticket.StateDraft
	}
	if t.VerificationStatus == "" {
		t.VerificationStatus = ticket.VerificationUnverified
	}
	f.tickets[t.ID] = *t
	return nil
}

func (f *FakeStore) ActivateSession(_ context.Context, sessionID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	activated, blocked := 0, 0
	for id, t := range f.tickets {
		if t.DesignSession != sessionID || t.State != ticket.StateDraft {
			continue
		}
		if len(t.DependsOn) == 0 {
			t.State = ticket.StateReady
			activated++
		} else {
			t.State = ticket.StateBlocked
			blocked++
		}
		f.tickets[id] = t
	}
	return activated, blocked, nil
}

func (f *FakeStore) ClaimNext(_ context.Context, assigneeID, workerID string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *ticket.Ticket
	for id, t := range f.tickets {
		if t.State != ticket.StateReady || t.AssigneeKind != ticket.AssigneeAgent || t.AssigneeID != assigneeID || t.WorkerID != nil {
			continue
		}
		cp := t
		if best == nil || cp.CreatedAt.Before(best.CreatedAt) {
			local := cp
			best = &local
			_ = id
		}
	}
	if best == nil {
		return nil, nil
	}
	now := time.Now()
	best.State = ticket.StateInProgress
	best.WorkerID = &workerID
	best.StartedAt = &now
	best.LastHeartbeat = &now
	best.HeartbeatCount = 0
	f.tickets[best.ID] = *best
	f.record(best.ID, ticket.EventClaimed, ticket.StateReady, ticket.StateInProgress, "")
	cp := *best
	return &cp, nil
}

func (f *FakeStore) ClaimByID(_ context.Context, ticketID, assigneeID, workerID string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.State != ticket.StateInReview || t.AssigneeID != assigneeID || t.WorkerID != nil {
		return nil, nil
	}
	now := time.Now()
	t.State = ticket.StateReviewing
	t.WorkerID = &workerID
	t.LastHeartbeat = &now
	f.tickets[ticketID] = t
	f.record(ticketID, ticket.EventSentinelStarted, ticket.StateInReview, ticket.StateReviewing, "")
	cp := t
	return &cp, nil
}

func (f *FakeStore) ListSentinelReady(_ context.Context, assigneeID string, limit int) ([]ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range f.tickets {
		if t.State == ticket.StateInReview && t.AssigneeID == assigneeID && t.WorkerID == nil {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeStore) Transition(_ context.Context, ticketID string, from, to ticket.State, trigger ticket.Trigger, payload string) (bool, error) {
	if !ticket.Allowed(from, to, trigger) {
		return false, &ticket.ErrIllegalTransition{From: from, To: to}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.State != from {
		return false, nil
	}
	t.State = to
	t.UpdatedAt = time.Now()
	f.tickets[ticketID] = t
	f.record(ticketID, ticket.EventTransition, from, to, payload)
	return true, nil
}

func (f *FakeStore) SetPRURL(_ context.Context, ticketID, prURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return ticket.ErrNotFound
	}
	t.PRURL = prURL
	f.tickets[ticketID] = t
	return nil
}

func (f *FakeStore) IncrementRejection(_ context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return ticket.ErrNotFound
	}
	t.RejectionCount++
	f.tickets[ticketID] = t
	return nil
}

func (f *FakeStore) SetVerificationStatus(_ context.Context, ticketID string, status ticket.VerificationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return ticket.ErrNotFound
	}
	t.VerificationStatus = status
	f.tickets[ticketID] = t
	return nil
}

func (f *FakeStore) Heartbeat(_ context.Context, ticketIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var updated []string
	for _, id := range ticketIDs {
		t, ok := f.tickets[id]
		if !ok || (t.State != ticket.StateInProgress && t.State != ticket.StateReviewing) {
			continue
		}
		t.LastHeartbeat = &now
		t.HeartbeatCount++
		f.tickets[id] = t
		updated = append(updated, id)
	}
	return updated, nil
}

func (f *FakeStore) ReapStale(_ context.Context, threshold time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var reclaimed []string
	for id, t := range f.tickets {
		if t.State != ticket.StateInProgress && t.State != ticket.StateReviewing {
			continue
		}
		if t.LastHeartbeat == nil || t.LastHeartbeat.After(cutoff) {
			continue
		}
		from := t.State
		to := ticket.StateReady
		if from == ticket.StateReviewing {
			to = ticket.StateInReview
		}
		t.State = to
		t.WorkerID = nil
		t.StartedAt = nil
		t.LastHeartbeat = nil
		t.HeartbeatCount = 0
		f.tickets[id] = t
		f.record(id, ticket.EventReclaimed, from, to, "")
		reclaimed = append(reclaimed, id)
	}
	return reclaimed, nil
}

func (f *FakeStore) ReleaseClaim(_ context.Context, ticketID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.State != ticket.StateInProgress {
		return false, nil
	}
	from := t.State
	t.State = ticket.StateReady
	t.WorkerID = nil
	t.StartedAt = nil
	t.LastHeartbeat = nil
	t.HeartbeatCount = 0
	f.tickets[ticketID] = t
	f.record(ticketID, ticket.EventReclaimed, from, ticket.StateReady, "")
	return true, nil
}

func (f *FakeStore) CascadeCandidates(_ context.Context, sessionID, completedTicketID string) ([]ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ticket.Ticket
	for _, t := range f.tickets {
		if t.DesignSession != sessionID || t.State != ticket.StateBlocked {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == completedTicketID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *FakeStore) DependencyStates(_ context.Context, ids []string) (map[string]ticket.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]ticket.State{}
	for _, id := range ids {
		if t, ok := f.tickets[id]; ok {
			out[id] = t.State
		}
	}
	return out, nil
}

func (f *FakeStore) Unblock(_ context.Context, ticketID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.State != ticket.StateBlocked {
		return false, nil
	}
	t.State = ticket.StateReady
	t.AssigneeKind = ticket.AssigneeAgent
	t.AssigneeID = ticket.RoleForgeAgent
	now := time.Now()
	t.UnblockedAt = &now
	f.tickets[ticketID] = t
	f.record(ticketID, ticket.EventUnblocked, ticket.StateBlocked, ticket.StateReady, "")
	return true, nil
}

func (f *FakeStore) GetProject(_ context.Context, id string) (*ticket.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (f *FakeStore) GetSession(_ context.Context, id string) (*ticket.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := s
	return &cp, nil
}

// record must be called with f.mu held.
func (f *FakeStore) record(ticketID string, kind ticket.EventKind, from, to ticket.State, payload string) {
	f.events[ticketID] = append(f.events[ticketID], ticket.Event{
		ID:        ticketID + "-" + string(kind),
		TicketID:  ticketID,
		Kind:      kind,
		FromState: from,
		ToState:   to,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

var _ ticket.Store = (*FakeStore)(nil)
