// Package cascade implements C6: promoting blocked tickets to ready once
// every ticket they depend on has reached a terminal-success state
// (SPEC_FULL.md §4.6). It generalizes orchestrator.go's single-ticket
// checkDependenciesMet poll into a cascade pass triggered by completion
// events, scoped to the completed ticket's design session.
package cascade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/ticket"
)

// Runner drives the cascade pass (§4.6 steps 1-2).
type Runner struct {
	store ticket.Store
	log   *zap.Logger
	m     *metrics.Metrics
}

func New(store ticket.Store, log *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{store: store, log: log, m: m}
}

// OnTicketDone runs the cascade pass for one completed ticket: every blocked
// sibling in the same design session whose depends_on includes ticketID is
// checked, and unblocked if every dependency is now terminal-success.
//
// Called once per ticket reaching merged or done (§4.6 step 1); the state
// param lets callers skip the pass entirely for a non-terminal-success
// transition without duplicating the check at every call site.
func (r *Runner) OnTicketDone(ctx context.Context, sessionID, ticketID string, state ticket.State) (promoted int, err error) {
	if !state.TerminalSuccess() {
		return 0, nil
	}

	candidates, err := r.store.CascadeCandidates(ctx, sessionID, ticketID)
	if err != nil {
		return 0, fmt.Errorf("cascade: list candidates: %w", err)
	}

	for _, c := range candidates {
		ready, err := r.dependenciesSatisfied(ctx, c.DependsOn)
		if err != nil {
			r.log.Warn("cascade: failed to evaluate dependency states", zap.String("ticket_id", c.ID), zap.Error(err))
			continue
		}
		if !ready {
			continue
		}
		ok, err := r.store.Unblock(ctx, c.ID)
		if err != nil {
			r.log.Warn("cascade: unblock failed", zap.String("ticket_id", c.ID), zap.Error(err))
			continue
		}
		if !ok {
			// Another replica's cascade pass (or a concurrent cancellation)
			// already moved this row; not an error (§7 logical conflict).
			continue
		}
		promoted++
		if r.m != nil {
			r.m.CascadePromotions.Inc()
		}
		r.log.Info("cascade: ticket promoted to ready", zap.String("ticket_id", c.ID), zap.String("completed_dependency", ticketID))
	}
	return promoted, nil
}

// dependenciesSatisfied reports whether every id in deps is currently in a
// terminal-success state. An empty deps list is vacuously satisfied, though
// in practice a ticket with no dependencies is never blocked (§4.2 invariant).
func (r *Runner) dependenciesSatisfied(ctx context.Context, deps []string) (bool, error) {
	if len(deps) == 0 {
		return true, nil
	}
	states, err := r.store.DependencyStates(ctx, deps)
	if err != nil {
		return false, err
	}
	for _, id := range deps {
		st, ok := states[id]
		if !ok || !st.TerminalSuccess() {
			return false, nil
		}
	}
	return true, nil
}
