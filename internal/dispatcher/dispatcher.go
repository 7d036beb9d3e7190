// Package dispatcher implements C1: the poll/claim/spawn loop that keeps
// forge agents busy (SPEC_FULL.md §4.1, §4.3). It generalizes
// orchestrator.go's runCycle/processDevStage capacity-check-then-spawn shape
// from a single-process ticker loop into a robfig/cron-scheduled one bounded
// by a mutex-guarded count of active executor goroutines.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/heartbeat"
	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/ticket"
)

// Executor runs the full per-ticket pipeline (C3) once a ticket has been
// atomically claimed. It is invoked in its own goroutine; the dispatcher
// only owns claiming and capacity, not execution.
type Executor interface {
	Execute(ctx context.Context, t ticket.Ticket)
}

// Runner is the dispatcher's poll/claim/spawn loop.
type Runner struct {
	store    ticket.Store
	log      *zap.Logger
	m        *metrics.Metrics
	exec     Executor
	inFlight *heartbeat.InFlightTracker

	assigneeID    string
	maxConcurrent int

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup

	cron *cron.Cron
}

func New(store ticket.Store, log *zap.Logger, m *metrics.Metrics, exec Executor, inFlight *heartbeat.InFlightTracker, assigneeID string, maxConcurrent int) *Runner {
	return &Runner{
		store:         store,
		log:           log,
		m:             m,
		exec:          exec,
		inFlight:      inFlight,
		assigneeID:    assigneeID,
		maxConcurrent: maxConcurrent,
		cron:          cron.New(),
	}
}

// Start schedules a poll tick every pollInterval, expressed as a cron
// "@every" spec (SPEC_FULL.md §6's poll_interval config key).
func (r *Runner) Start(ctx context.Context, pollInterval string) error {
	if _, err := r.cron.AddFunc("@every "+pollInterval, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("dispatcher: schedule: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts scheduling and waits for every spawned executor goroutine to
// return.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	r.wg.Wait()
}

// tick is one dispatch cycle: count the open worker slots once, then make at
// most that many claims, spawning every claimed, conflict-free ticket.
func (r *Runner) tick(ctx context.Context) {
	free := r.freeSlots()
	for i := 0; i < free; i++ {
		t, err := r.store.ClaimNext(ctx, r.assigneeID, uuid.NewString())
		if err != nil {
			r.log.Error("dispatcher: claim failed", zap.Error(err))
			return
		}
		if t == nil {
			return // queue empty for this role
		}

		if r.conflicts(ctx, *t) {
			// Two tickets whose file sets glob-overlap must not both be in
			// flight in the same tick (§12). Release the claim back to
			// ready instead of spawning; a later tick reclaims it once the
			// conflicting ticket has moved out of in_progress.
			r.emitConflictWarning(ctx, *t)
			if ok, err := r.store.ReleaseClaim(ctx, t.ID); err != nil {
				r.log.Error("dispatcher: release claim failed", zap.String("ticket_id", t.ID), zap.Error(err))
			} else if !ok {
				r.log.Warn("dispatcher: release claim was a no-op, ticket already moved on", zap.String("ticket_id", t.ID))
			}
			continue
		}

		r.spawn(ctx, *t)
	}
}

func (r *Runner) freeSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxConcurrent - r.active
}

func (r *Runner) conflicts(ctx context.Context, t ticket.Ticket) bool {
	inProgress, err := r.store.GetTicketsByState(ctx, ticket.StateInProgress)
	if err != nil {
		r.log.Warn("dispatcher: conflict check query failed", zap.Error(err))
		return false
	}
	return hasFileConflict(t, inProgress)
}

func (r *Runner) emitConflictWarning(ctx context.Context, t ticket.Ticket) {
	r.log.Warn("dispatcher: claimed ticket overlaps files with another in-flight ticket", zap.String("ticket_id", t.ID))
}

func (r *Runner) spawn(ctx context.Context, t ticket.Ticket) {
	r.mu.Lock()
	r.active++
	r.mu.Unlock()

	r.inFlight.Add(t.ID)
	if r.m != nil {
		r.m.TicketsClaimed.Inc()
	}
	r.log.Info("dispatcher: claimed ticket", zap.String("ticket_id", t.ID), zap.String("title", t.Title))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			r.inFlight.Remove(t.ID)
		}()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("dispatcher: executor panicked", zap.String("ticket_id", t.ID), zap.Any("panic", p))
			}
		}()
		r.exec.Execute(ctx, t)
	}()
}
