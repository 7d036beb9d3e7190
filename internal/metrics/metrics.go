// Package metrics generalizes the teacher's in-memory orchestrator.Metrics
// struct (orchestrator.go) into externally scrapeable Prometheus series
// (SPEC_FULL.md §11).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/histogram the Engine's components increment.
// A single instance is constructed at startup and threaded into the
// dispatcher, verify, heartbeat, cascade, and sentinel packages, just as the
// teacher threads one *Metrics into every process*Stage call.
type Metrics struct {
	TicketsClaimed      prometheus.Counter
	TicketsFailed       prometheus.Counter
	TicketsMerged        prometheus.Counter
	TicketsNeedsReview  prometheus.Counter
	TicketsSentinelFail prometheus.Counter

	VerifyAttempts prometheus.Counter
	VerifyPassed   prometheus.Counter
	VerifyFailed   prometheus.Counter
	VerifyRetryable prometheus.Counter

	HeartbeatsSent    prometheus.Counter
	TicketsReclaimed  prometheus.Counter
	CascadePromotions prometheus.Counter

	DispatchLatency prometheus.Histogram
	VerifyLatency   prometheus.Histogram
}

// New registers and returns a Metrics bound to reg. Callers pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func New(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	histogram := func(name, help string) prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engine",
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		})
		reg.MustRegister(h)
		return h
	}

	return &Metrics{
		TicketsClaimed:      counter("tickets_claimed_total", "Tickets atomically claimed by this replica."),
		TicketsFailed:       counter("tickets_failed_total", "Tickets transitioned to cancelled due to permanent fault."),
		TicketsMerged:       counter("tickets_merged_total", "Tickets transitioned to merged."),
		TicketsNeedsReview:  counter("tickets_needs_review_total", "Tickets that exhausted verification retries."),
		TicketsSentinelFail: counter("tickets_sentinel_failed_total", "Tickets rejected or failed to merge in sentinel review."),

		VerifyAttempts:  counter("verify_attempts_total", "Verifier invocations across all tickets."),
		VerifyPassed:    counter("verify_passed_total", "Verifier invocations that returned passed."),
		VerifyFailed:    counter("verify_failed_total", "Verifier invocations that returned failed."),
		VerifyRetryable: counter("verify_retryable_total", "Verifier invocations classified as retryable errors."),

		HeartbeatsSent:    counter("heartbeats_sent_total", "Bulk heartbeat updates issued."),
		TicketsReclaimed:  counter("tickets_reclaimed_total", "Tickets reclaimed by the reaper."),
		CascadePromotions: counter("cascade_promotions_total", "Tickets promoted blocked -> ready by the cascade."),

		DispatchLatency: histogram("dispatch_tick_seconds", "Wall time of one dispatcher tick."),
		VerifyLatency:   histogram("verify_call_seconds", "Wall time of one verifier RPC."),
	}
}
