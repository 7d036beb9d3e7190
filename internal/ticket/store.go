package ticket

import (
	"context"
	"time"
)

// Store is the persistence interface the Engine's components depend on.
// It generalizes the teacher's kanban.StateStore (a single-process, JSON- or
// SQLite-backed interface) to a Postgres-backed, multi-replica-safe contract:
// every mutating method here is implemented as a single conditional
// statement (guarded by state and/or worker_id) so it is safe to call
// concurrently from many orchestrator processes.
type Store interface {
	// Queries
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	GetTicketsByState(ctx context.Context, state State) ([]Ticket, error)
	GetTicketsBySession(ctx context.Context, sessionID string) ([]Ticket, error)
	GetEvents(ctx context.Context, ticketID string) ([]Event, error)

	// Creation (generator-owned, §6)
	CreateTicket(ctx context.Context, t *Ticket) error

	// Activation pass (draft -> ready | blocked)
	ActivateSession(ctx context.Context, sessionID string) (activated int, blocked int, err error)

	// Atomic claim (§4.1): selects the oldest ready ticket for assigneeID
	// with FOR UPDATE SKIP LOCKED, transitions it to in_progress, and
	// returns it. Returns (nil, nil) when the queue is empty for that role.
	ClaimNext(ctx context.Context, assigneeID, workerID string) (*Ticket, error)

	// ClaimByID implements the sentinel's by-id claim (in_review ->
	// reviewing) with the same atomicity discipline.
	ClaimByID(ctx context.Context, ticketID, assigneeID, workerID string) (*Ticket, error)

	// ListSentinelReady returns up to limit tickets in in_review assigned to
	// assigneeID with no worker_id, ordered by updated_at ascending.
	ListSentinelReady(ctx context.Context, assigneeID string, limit int) ([]Ticket, error)

	// Transition performs a conditional update guarded by
	// (id, expected from-state), appends one Event in the same transaction,
	// and returns ok=false with a nil error if another worker/reaper
	// already moved the row (§7 logical-conflict case).
	Transition(ctx context.Context, ticketID string, from, to State, trigger Trigger, payload string) (ok bool, err error)

	// SetPRURL records pr_url ahead of a verifying->in_review transition.
	SetPRURL(ctx context.Context, ticketID, prURL string) error

	// IncrementRejection bumps rejection_count monotonically.
	IncrementRejection(ctx context.Context, ticketID string) error

	// SetVerificationStatus records the verifier's (or sentinel's) final
	// outcome against the ticket, independent of the feedback artifact
	// trail. This is what makes invariant 4 (state ∈ {merged, done} implies
	// verification_status ∈ {passed, sentinel_rejected} has already been
	// observed) enforceable.
	SetVerificationStatus(ctx context.Context, ticketID string, status VerificationStatus) error

	// Heartbeat (§4.5): bulk-updates last_heartbeat/heartbeat_count for
	// every id in ticketIDs still in_progress or reviewing. Returns the ids
	// that were actually updated (a subset means some are no longer ours).
	Heartbeat(ctx context.Context, ticketIDs []string) (updated []string, err error)

	// ReapStale (§4.5): atomically reclaims every ticket in in_progress or
	// reviewing whose last_heartbeat is older than threshold, back to
	// ready/in_review respectively, clearing worker_id/started_at/
	// last_heartbeat/heartbeat_count. Returns the reclaimed ticket ids.
	ReapStale(ctx context.Context, threshold time.Duration) ([]string, error)

	// ReleaseClaim reclaims a single in_progress ticket back to ready,
	// clearing worker_id/started_at/last_heartbeat/heartbeat_count, the same
	// way ReapStale does for a timed-out claim. The dispatcher uses this to
	// undo a claim on a ticket that glob-conflicts with another ticket
	// already in flight (§12), instead of spawning it anyway. Returns
	// ok=false if the ticket already moved on (race with the reaper or
	// another replica).
	ReleaseClaim(ctx context.Context, ticketID string) (ok bool, err error)

	// CascadeCandidates (§4.6) returns every blocked ticket in sessionID
	// whose depends_on includes completedTicketID.
	CascadeCandidates(ctx context.Context, sessionID, completedTicketID string) ([]Ticket, error)

	// DependencyStates returns the current state of every id in ids.
	DependencyStates(ctx context.Context, ids []string) (map[string]State, error)

	// Unblock promotes a blocked ticket to ready as part of the cascade.
	Unblock(ctx context.Context, ticketID string) (ok bool, err error)

	// Projects/sessions, consulted by C3 step 1 (repo_url resolution).
	GetProject(ctx context.Context, id string) (*Project, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}

// ErrNotFound is returned by single-row lookups that find no matching row.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "ticket: not found" }
