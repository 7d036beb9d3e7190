package ticket

import "fmt"

// ErrIllegalTransition is returned by Transition when the (from, to) pair is
// not in the legal transition table.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Trigger names who/what drives a transition, mirroring the "Triggered by"
// column of SPEC_FULL.md §4.2's table. A non-empty trigger must match the
// table row's trigger for Allowed (and so the stores' Transition) to accept
// the pair, so a transition invoked on behalf of the wrong component is
// refused.
type Trigger string

const (
	TriggerActivation Trigger = "activation"
	TriggerCascade    Trigger = "cascade"
	TriggerClaim      Trigger = "claim"
	TriggerExecutor   Trigger = "executor"
	TriggerReaper     Trigger = "reaper"
	TriggerDispatcher Trigger = "dispatcher"
	TriggerSentinel   Trigger = "sentinel"
	TriggerExternal   Trigger = "external"
	TriggerDeploy     Trigger = "deploy"
)

// legalTransition is one row of the table in SPEC_FULL.md §4.2.
type legalTransition struct {
	from, to State
	trigger  Trigger
}

// table enumerates every legal (from, to) pair. "any active" -> cancelled is
// expanded to one row per non-terminal state.
var table = func() []legalTransition {
	rows := []legalTransition{
		{StateDraft, StateReady, TriggerActivation},
		{StateDraft, StateBlocked, TriggerActivation},
		{StateBlocked, StateReady, TriggerCascade},
		{StateReady, StateInProgress, TriggerClaim},
		{StateInProgress, StateVerifying, TriggerExecutor},
		{StateVerifying, StateInReview, TriggerExecutor},
		{StateVerifying, StateNeedsReview, TriggerExecutor},
		{StateInProgress, StateReady, TriggerReaper},
		{StateInProgress, StateReady, TriggerDispatcher},
		{StateReviewing, StateInReview, TriggerReaper},
		{StateInReview, StateReviewing, TriggerSentinel},
		{StateReviewing, StateMerged, TriggerSentinel},
		{StateReviewing, StateSentinelFailed, TriggerSentinel},
		{StateMerged, StateDone, TriggerDeploy},
	}
	active := []State{
		StateDraft, StateReady, StateBlocked, StateInProgress, StateVerifying,
		StateInReview, StateReviewing,
	}
	for _, s := range active {
		rows = append(rows, legalTransition{s, StateCancelled, TriggerExternal})
	}
	return rows
}()

// legalFor finds the table row for (from, to, trigger). trigger == ""
// matches any row for that (from, to) pair; a non-empty trigger must match
// the row's trigger exactly, since more than one row can share a (from, to)
// pair with different triggers (e.g. in_progress -> ready is legal for both
// the reaper and the dispatcher's conflict release).
func legalFor(from, to State, trigger Trigger) (legalTransition, bool) {
	for _, r := range table {
		if r.from == from && r.to == to && (trigger == "" || r.trigger == trigger) {
			return r, true
		}
	}
	return legalTransition{}, false
}

// Allowed reports whether (from, to) appears in the legal transition table,
// optionally restricted to a specific trigger.
func Allowed(from, to State, trigger Trigger) bool {
	_, ok := legalFor(from, to, trigger)
	return ok
}

// Guard is a predicate evaluated against the ticket being transitioned;
// returning a non-nil error aborts the transition (SPEC_FULL.md §4.2's
// "Guard" column, e.g. "depends_on = ∅" or "slot available").
type Guard func(t *Ticket) error

// Transition validates (from, to, trigger) against the legal table and runs
// guard, returning the single error describing why the transition was
// refused, or nil if it is legal. It does not mutate t or the store; callers
// combine it with a conditional UPDATE so the authoritative check happens at
// the database row, with this function providing the same rule in-process
// for tests and for fast-failing before round-tripping to the store.
func Transition(t *Ticket, to State, trigger Trigger, guard Guard) error {
	if !Allowed(t.State, to, trigger) {
		return &ErrIllegalTransition{From: t.State, To: to}
	}
	if guard != nil {
		if err := guard(t); err != nil {
			return fmt.Errorf("guard rejected %s -> %s: %w", t.State, to, err)
		}
	}
	return nil
}

// GuardNoop always succeeds; used where SPEC_FULL.md's guard column is "—".
func GuardNoop(*Ticket) error { return nil }

// GuardDependsOnEmpty implements the draft->ready activation guard.
func GuardDependsOnEmpty(t *Ticket) error {
	if len(t.DependsOn) != 0 {
		return fmt.Errorf("depends_on is not empty (%d entries)", len(t.DependsOn))
	}
	return nil
}

// GuardDependsOnNonEmpty implements the draft->blocked activation guard.
func GuardDependsOnNonEmpty(t *Ticket) error {
	if len(t.DependsOn) == 0 {
		return fmt.Errorf("depends_on is empty")
	}
	return nil
}

// GuardPRURLSet implements invariant 5: pr_url must be set before entering
// in_review or reviewing.
func GuardPRURLSet(t *Ticket) error {
	if t.PRURL == "" {
		return fmt.Errorf("pr_url is not set")
	}
	return nil
}

// CheckInvariants re-validates the eight structural invariants of
// SPEC_FULL.md §3 against a single ticket snapshot, for use in tests and in
// the invariant-violation log path of §7. It intentionally does not check
// invariant 3 (blocked implies an unresolved dependency) or invariant 7
// (acyclic depends_on), which need the dependency graph, not just this
// ticket, and are checked elsewhere (DependencyStates, CascadeCandidates);
// or invariant 8 (one event per transition), which is log-scoped.
func CheckInvariants(t *Ticket) error {
	hasWorker := t.WorkerID != nil && *t.WorkerID != ""
	switch {
	case hasWorker && t.State != StateInProgress && t.State != StateReviewing:
		return fmt.Errorf("invariant 1 violated: worker_id set in state %s", t.State)
	case !hasWorker && (t.State == StateInProgress || t.State == StateReviewing):
		return fmt.Errorf("invariant 1 violated: worker_id unset in state %s", t.State)
	}
	if t.State == StateReady {
		if t.AssigneeKind != AssigneeAgent {
			return fmt.Errorf("invariant 2 violated: ready ticket has assignee_kind %s", t.AssigneeKind)
		}
		if hasWorker {
			return fmt.Errorf("invariant 2 violated: ready ticket has worker_id set")
		}
	}
	if t.State == StateInReview || t.State == StateReviewing {
		if t.PRURL == "" {
			return fmt.Errorf("invariant 5 violated: %s ticket has no pr_url", t.State)
		}
	}
	if (t.State == StateInProgress || t.State == StateReviewing) && t.LastHeartbeat == nil {
		return fmt.Errorf("invariant 6 violated: %s ticket has no last_heartbeat", t.State)
	}
	if t.State == StateMerged || t.State == StateDone {
		if t.VerificationStatus != VerificationPassed && t.VerificationStatus != VerificationSentinelReject {
			return fmt.Errorf("invariant 4 violated: %s ticket has verification_status %s", t.State, t.VerificationStatus)
		}
	}
	return nil
}
