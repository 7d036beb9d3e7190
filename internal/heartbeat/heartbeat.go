// Package heartbeat implements C5: the bulk heartbeat update for in-flight
// tickets and the reaper pass that reclaims stale claims, both scheduled as
// recurring cron jobs rather than the teacher's startup-only
// CleanupStaleRunningAgents pass (background.go's healStuckDevTickets is the
// closest teacher analogue, generalized here into a recurring, cross-replica
// -safe job).
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/ticket"
)

// InFlightTracker is consulted by the heartbeat job to learn which ticket ids
// this replica currently has workers running for (SPEC_FULL.md §4.5 step 1).
// The dispatcher registers an id when it spawns an executor for it and
// deregisters it when the executor returns. The sentinel does not register
// the tickets it claims, so they get no heartbeat from this job.
type InFlightTracker struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{ids: map[string]struct{}{}}
}

func (t *InFlightTracker) Add(ticketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[ticketID] = struct{}{}
}

func (t *InFlightTracker) Remove(ticketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, ticketID)
}

func (t *InFlightTracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	return out
}

// Runner schedules and executes the heartbeat and reaper jobs.
type Runner struct {
	store ticket.Store
	log   *zap.Logger
	m     *metrics.Metrics

	heartbeatInterval time.Duration
	reaperInterval    time.Duration
	staleThreshold    time.Duration

	inFlight *InFlightTracker

	cascadeFn func(ctx context.Context, ticketID string, reclaimedTo ticket.State)

	cron *cron.Cron
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithCascadeHook registers a callback invoked for every ticket the reaper
// reclaims, so a caller can fold reaper-driven transitions into the same
// observability path as executor/sentinel-driven ones. It is not a cascade
// trigger in the §4.6 sense (only terminal-success transitions cascade);
// the name refers to the reaper's "ticket changed state" notification.
func WithCascadeHook(fn func(ctx context.Context, ticketID string, reclaimedTo ticket.State)) Option {
	return func(r *Runner) { r.cascadeFn = fn }
}

func New(store ticket.Store, log *zap.Logger, m *metrics.Metrics, inFlight *InFlightTracker, heartbeatInterval, reaperInterval, staleThreshold time.Duration, opts ...Option) *Runner {
	r := &Runner{
		store:             store,
		log:               log,
		m:                 m,
		heartbeatInterval: heartbeatInterval,
		reaperInterval:    reaperInterval,
		staleThreshold:    staleThreshold,
		inFlight:          inFlight,
		cron:              cron.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the heartbeat and reaper jobs on their own cron entries and
// returns once both are registered; the cron scheduler itself runs in its own
// goroutine until Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(everySpec(r.heartbeatInterval), func() { r.runHeartbeat(ctx) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(everySpec(r.reaperInterval), func() { r.runReap(ctx) }); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop waits for any in-flight job invocation to finish and halts scheduling.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RunHeartbeatOnce and RunReapOnce are exported so tests can drive a single
// pass synchronously, without going through the cron scheduler.
func (r *Runner) RunHeartbeatOnce(ctx context.Context) (int, error) { return r.runHeartbeat(ctx) }
func (r *Runner) RunReapOnce(ctx context.Context) (int, error)      { return r.runReap(ctx) }

func (r *Runner) runHeartbeat(ctx context.Context) (int, error) {
	ids := r.inFlight.Snapshot()
	if len(ids) == 0 {
		return 0, nil
	}
	updated, err := r.store.Heartbeat(ctx, ids)
	if err != nil {
		r.log.Error("heartbeat: bulk update failed", zap.Error(err))
		return 0, err
	}
	if r.m != nil {
		r.m.HeartbeatsSent.Add(float64(len(updated)))
	}
	stale := len(ids) - len(updated)
	if stale > 0 {
		r.log.Info("heartbeat: some in-flight tickets were no longer ours", zap.Int("stale", stale))
	}
	return len(updated), nil
}

func (r *Runner) runReap(ctx context.Context) (int, error) {
	reclaimed, err := r.store.ReapStale(ctx, r.staleThreshold)
	if err != nil {
		r.log.Error("reaper: reclaim pass failed", zap.Error(err))
		return 0, err
	}
	for _, id := range reclaimed {
		r.inFlight.Remove(id)
		if r.m != nil {
			r.m.TicketsReclaimed.Inc()
		}
		r.log.Warn("reaper: reclaimed stale ticket", zap.String("ticket_id", id))
		if r.cascadeFn != nil {
			t, err := r.store.GetTicket(ctx, id)
			if err == nil {
				r.cascadeFn(ctx, id, t.State)
			}
		}
	}
	return len(reclaimed), nil
}

// everySpec builds a robfig/cron "@every" spec from a duration, since the
// heartbeat/reaper intervals are operator-configured durations, not fixed
// crontab fields.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
