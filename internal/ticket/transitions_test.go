package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed_LegalPairs(t *testing.T) {
	cases := []struct {
		from, to State
		trigger  Trigger
	}{
		{StateDraft, StateReady, TriggerActivation},
		{StateDraft, StateBlocked, TriggerActivation},
		{StateBlocked, StateReady, TriggerCascade},
		{StateReady, StateInProgress, TriggerClaim},
		{StateInProgress, StateVerifying, TriggerExecutor},
		{StateVerifying, StateInReview, TriggerExecutor},
		{StateVerifying, StateNeedsReview, TriggerExecutor},
		{StateInProgress, StateReady, TriggerReaper},
		{StateInReview, StateReviewing, TriggerSentinel},
		{StateReviewing, StateMerged, TriggerSentinel},
		{StateReviewing, StateSentinelFailed, TriggerSentinel},
		{StateMerged, StateDone, TriggerDeploy},
		{StateReady, StateCancelled, TriggerExternal},
	}
	for _, c := range cases {
		assert.Truef(t, Allowed(c.from, c.to, c.trigger), "%s -> %s via %s should be legal", c.from, c.to, c.trigger)
	}
}

func TestAllowed_IllegalPairs(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateDraft, StateInProgress},
		{StateDone, StateMerged},
		{StateCancelled, StateReady},
		{StateReady, StateMerged},
		{StateNeedsReview, StateInProgress},
	}
	for _, c := range cases {
		assert.Falsef(t, Allowed(c.from, c.to, ""), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestAllowed_WrongTrigger(t *testing.T) {
	// ready -> in_progress is only legal via claim, never via cascade.
	assert.True(t, Allowed(StateReady, StateInProgress, TriggerClaim))
	assert.False(t, Allowed(StateReady, StateInProgress, TriggerCascade))
}

func TestAllowed_SharedPairDistinguishesEitherTrigger(t *testing.T) {
	// in_progress -> ready is legal via either the reaper's timeout reclaim
	// or the dispatcher's conflict release; legalFor must not let the first
	// matching row shadow the second.
	assert.True(t, Allowed(StateInProgress, StateReady, TriggerReaper))
	assert.True(t, Allowed(StateInProgress, StateReady, TriggerDispatcher))
	assert.False(t, Allowed(StateInProgress, StateReady, TriggerSentinel))
}

func TestTransition_GuardRejection(t *testing.T) {
	tk := &Ticket{State: StateDraft, DependsOn: []string{"t-1"}}
	err := Transition(tk, StateReady, TriggerActivation, GuardDependsOnEmpty)
	require.Error(t, err)
}

func TestTransition_GuardAccepts(t *testing.T) {
	tk := &Ticket{State: StateDraft, DependsOn: nil}
	err := Transition(tk, StateReady, TriggerActivation, GuardDependsOnEmpty)
	require.NoError(t, err)
}

func TestTransition_IllegalPairShortCircuitsGuard(t *testing.T) {
	called := false
	guard := func(*Ticket) error { called = true; return nil }
	tk := &Ticket{State: StateDone}
	err := Transition(tk, StateMerged, TriggerDeploy, guard)
	require.Error(t, err)
	assert.False(t, called, "guard must not run when the transition pair itself is illegal")
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestCheckInvariants(t *testing.T) {
	hb := time.Now()
	worker := "w-1"
	pr := "https://example.com/pr/1"

	valid := &Ticket{
		State:         StateInProgress,
		WorkerID:      &worker,
		AssigneeKind:  AssigneeAgent,
		LastHeartbeat: &hb,
	}
	assert.NoError(t, CheckInvariants(valid))

	missingWorker := &Ticket{State: StateInProgress, LastHeartbeat: &hb}
	assert.Error(t, CheckInvariants(missingWorker))

	readyWithWorker := &Ticket{State: StateReady, AssigneeKind: AssigneeAgent, WorkerID: &worker}
	assert.Error(t, CheckInvariants(readyWithWorker))

	reviewNoPR := &Ticket{State: StateInReview}
	assert.Error(t, CheckInvariants(reviewNoPR))

	reviewWithPR := &Ticket{State: StateInReview, PRURL: pr}
	assert.NoError(t, CheckInvariants(reviewWithPR))

	mergedUnverified := &Ticket{State: StateMerged, VerificationStatus: VerificationUnverified}
	assert.Error(t, CheckInvariants(mergedUnverified))

	mergedPassed := &Ticket{State: StateMerged, VerificationStatus: VerificationPassed}
	assert.NoError(t, CheckInvariants(mergedPassed))

	doneSentinelRejected := &Ticket{State: StateDone, VerificationStatus: VerificationSentinelReject}
	assert.NoError(t, CheckInvariants(doneSentinelRejected))
}
