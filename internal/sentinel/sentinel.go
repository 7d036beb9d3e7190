// Package sentinel implements C7: the merge gate. It polls tickets sitting
// in in_review, claims them one at a time, runs a final sentinel-phase
// verification pass, and merges the PR through the VCS host on success.
// Grounded in orchestrator.go's processPMReviewStage (poll-claim-review loop
// shape, createSignoffReport's review-result recording) and git/worktree.go's
// SquashMerge, whose squash/delete-branch semantics are now reached through
// vcs.Host.MergePR instead of a local git call.
package sentinel

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/cascade"
	"github.com/forgelabs/engine/internal/eventbus"
	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/vcs"
	"github.com/forgelabs/engine/internal/verify"
)

// Runner drives the sentinel poll/claim/merge loop.
type Runner struct {
	store      ticket.Store
	verifier   verify.Verifier
	host       vcs.Host
	bus        eventbus.Bus
	cascade    *cascade.Runner
	log        *zap.Logger
	m          *metrics.Metrics
	assigneeID string
	workerID   string
	batchLimit int
	cron       *cron.Cron
}

func New(store ticket.Store, verifier verify.Verifier, host vcs.Host, bus eventbus.Bus, cascadeRunner *cascade.Runner, log *zap.Logger, m *metrics.Metrics, assigneeID, workerID string, batchLimit int) *Runner {
	return &Runner{
		store: store, verifier: verifier, host: host, bus: bus, cascade: cascadeRunner,
		log: log, m: m, assigneeID: assigneeID, workerID: workerID, batchLimit: batchLimit,
	}
}

// Start schedules the sentinel pass on pollInterval (an "Ns"/"Nm"-style
// duration string, matching dispatcher.Runner.Start).
func (r *Runner) Start(ctx context.Context, pollInterval string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc("@every "+pollInterval, func() { r.tick(ctx) })
	if err != nil {
		return fmt.Errorf("sentinel: schedule tick: %w", err)
	}
	r.cron.Start()
	return nil
}

func (r *Runner) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// tick claims and processes up to batchLimit ready tickets per pass, rather
// than one per tick, since a merge gate that only advances one ticket every
// interval would bottleneck a session with many tickets finishing review
// around the same time.
func (r *Runner) tick(ctx context.Context) {
	ready, err := r.store.ListSentinelReady(ctx, r.assigneeID, r.batchLimit)
	if err != nil {
		r.log.Error("sentinel: list ready failed", zap.Error(err))
		return
	}
	for _, candidate := range ready {
		claimed, err := r.store.ClaimByID(ctx, candidate.ID, r.assigneeID, r.workerID)
		if err != nil {
			r.log.Error("sentinel: claim failed", zap.String("ticket_id", candidate.ID), zap.Error(err))
			continue
		}
		if claimed == nil {
			continue // already claimed by a racing replica
		}
		r.process(ctx, *claimed)
	}
}

// process runs SPEC_FULL.md §6's final review: a sentinel-phase verify call,
// then merge-on-pass or sentinel_failed-on-reject.
func (r *Runner) process(ctx context.Context, t ticket.Ticket) {
	log := r.log.With(zap.String("ticket_id", t.ID))

	resp, err := r.verifier.Verify(ctx, verify.Request{
		TicketID:           t.ID,
		BranchName:         t.BranchName,
		AcceptanceCriteria: criteriaText(t.AcceptanceCriteria),
		Phases:             []verify.Phase{verify.PhaseSentinel},
	})
	if err != nil {
		log.Error("sentinel: verify call failed", zap.Error(err))
		r.reject(ctx, log, t, err.Error())
		return
	}
	if resp.Status != verify.StatusPassed && !resp.ReadyForPR {
		r.reject(ctx, log, t, firstOrEmpty(resp.FeedbackForAgent))
		return
	}

	if err := r.merge(ctx, log, t); err != nil {
		log.Error("sentinel: merge failed", zap.Error(err))
		r.reject(ctx, log, t, err.Error())
	}
}

func (r *Runner) merge(ctx context.Context, log *zap.Logger, t ticket.Ticket) error {
	repoURL, err := r.repoURL(ctx, t)
	if err != nil {
		return err
	}
	prNumber, err := vcs.PRNumberFromURL(t.PRURL)
	if err != nil {
		return fmt.Errorf("sentinel: %w", err)
	}

	result, err := r.host.MergePR(ctx, repoURL, prNumber)
	if err != nil {
		return fmt.Errorf("sentinel: merge PR: %w", err)
	}
	if !result.Merged && !result.AlreadyMerged {
		return fmt.Errorf("sentinel: host reported merge unsuccessful for PR %d", prNumber)
	}

	if err := r.store.SetVerificationStatus(ctx, t.ID, ticket.VerificationPassed); err != nil {
		log.Warn("sentinel: failed to persist verification_status", zap.Error(err))
	}

	if ok, err := r.store.Transition(ctx, t.ID, ticket.StateReviewing, ticket.StateMerged, ticket.TriggerSentinel, result.SHA); err != nil {
		return fmt.Errorf("sentinel: transition to merged: %w", err)
	} else if !ok {
		log.Warn("sentinel: merge transition was a no-op, ticket already moved on")
		return nil
	}
	if r.m != nil {
		r.m.TicketsMerged.Inc()
	}
	r.bus.Publish(eventbus.KindTicketUpdate, t.ID, t.DesignSession, map[string]string{"state": string(ticket.StateMerged)})

	if r.cascade != nil {
		promoted, err := r.cascade.OnTicketDone(ctx, t.DesignSession, t.ID, ticket.StateMerged)
		if err != nil {
			log.Warn("sentinel: cascade pass failed after merge", zap.Error(err))
		} else if promoted > 0 {
			log.Info("sentinel: cascade promoted dependents", zap.Int("count", promoted))
		}
	}
	log.Info("sentinel: ticket merged", zap.String("pr_url", t.PRURL))
	return nil
}

func (r *Runner) reject(ctx context.Context, log *zap.Logger, t ticket.Ticket, reason string) {
	if err := r.store.SetVerificationStatus(ctx, t.ID, ticket.VerificationSentinelReject); err != nil {
		log.Warn("sentinel: failed to persist verification_status", zap.Error(err))
	}
	if _, err := r.store.Transition(ctx, t.ID, ticket.StateReviewing, ticket.StateSentinelFailed, ticket.TriggerSentinel, reason); err != nil {
		log.Error("sentinel: failed to transition to sentinel_failed", zap.Error(err))
	}
	if r.m != nil {
		r.m.TicketsSentinelFail.Inc()
	}
	r.bus.Publish(eventbus.KindTicketUpdate, t.ID, t.DesignSession, map[string]string{"state": string(ticket.StateSentinelFailed), "reason": reason})
}

func (r *Runner) repoURL(ctx context.Context, t ticket.Ticket) (string, error) {
	if p, err := r.store.GetProject(ctx, t.ProjectID); err == nil && p.RepoURL != "" {
		return p.RepoURL, nil
	}
	if s, err := r.store.GetSession(ctx, t.DesignSession); err == nil {
		if p, err := r.store.GetProject(ctx, s.ProjectID); err == nil && p.RepoURL != "" {
			return p.RepoURL, nil
		}
	}
	return "", fmt.Errorf("sentinel: no repo_url resolvable for ticket %s", t.ID)
}

func criteriaText(items []ticket.AcceptanceCriterion) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Text
	}
	return out
}

func firstOrEmpty(items []string) string {
	if len(items) == 0 {
		return "sentinel rejected without feedback"
	}
	return items[0]
}
