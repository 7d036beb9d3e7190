// Package verify implements C4, the retry-with-backoff wrapper around the
// external Verifier collaborator (SPEC_FULL.md §4.4). There is no direct
// teacher analogue — Factory's QA stage is a single pass — so this package
// is written fresh in the teacher's error-wrapping idiom, using
// cenkalti/backoff/v5 for the exponential schedule instead of a hand-rolled
// sleep loop (DESIGN.md's C4 entry).
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/ticket"
)

// Phase names a verification phase (SPEC_FULL.md §6).
type Phase string

const (
	PhaseStatic    Phase = "static"
	PhaseAutomated Phase = "automated"
	PhaseSentinel  Phase = "sentinel"
)

// Status is the verifier's reported outcome.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Request is sent to the Verifier collaborator on every attempt.
type Request struct {
	TicketID           string
	BranchName         string
	RepoURL            string
	Attempt            int
	AcceptanceCriteria []string
	Phases             []Phase
}

// Response is the Verifier collaborator's reply.
type Response struct {
	Status           Status
	ReadyForPR       bool
	FeedbackForAgent []string
	Evidence         any
}

// Verifier is the external collaborator interface (SPEC_FULL.md §6). Error
// implementations should wrap transport failures so Classify can recognize
// them; Verifier.Verify itself never retries — that's this package's job.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Response, error)
}

// Params are the bounded retry parameters (SPEC_FULL.md §4.4 and §9's
// jitter decision).
type Params struct {
	MaxRetries        int
	BaseDelay         time.Duration
	Cap               time.Duration
	Multiplier        float64
	JitterFraction    float64
}

// DefaultParams returns max_retries=3, base_delay=1s, multiplier=2, cap=8s,
// jitter=±20%, exactly as specified.
func DefaultParams() Params {
	return Params{MaxRetries: 3, BaseDelay: time.Second, Cap: 8 * time.Second, Multiplier: 2, JitterFraction: 0.2}
}

// Outcome is returned by Run once the attempt loop ends, one way or another.
type Outcome struct {
	Passed          bool
	Exhausted       bool
	Attempts        int
	LastResponse    Response
	FeedbackHistory map[int][]string // attempt -> feedback, for artifact persistence
}

// FeedbackSink persists a verifier's feedback_for_agent as an artifact
// tagged with the attempt number (SPEC_FULL.md §4.4 step 4; seed test 6's
// "attempt_1, attempt_2, attempt_3" tags).
type FeedbackSink interface {
	SaveFeedback(ctx context.Context, ticketID string, attempt int, feedback []string) error
}

// StatusSink persists the verifier's final outcome against the ticket
// itself, independent of the feedback artifact trail above. Without this,
// invariant 4 (state ∈ {merged, done} implies verification_status ∈
// {passed, sentinel_rejected} has already been observed) is unenforceable:
// apart from the sentinel's own pass/reject writes, nothing else in the
// Engine writes verification_status past its CreateTicket-time "unverified"
// default. ticket.Store satisfies this
// interface directly.
type StatusSink interface {
	SetVerificationStatus(ctx context.Context, ticketID string, status ticket.VerificationStatus) error
}

func setStatus(ctx context.Context, sink StatusSink, log *zap.Logger, ticketID string, status ticket.VerificationStatus) {
	if sink == nil {
		return
	}
	if err := sink.SetVerificationStatus(ctx, ticketID, status); err != nil {
		log.Warn("verify: failed to persist verification_status", zap.String("status", string(status)), zap.Error(err))
	}
}

// errContentFailure is the sentinel backoff.Retry sees for a "failed"
// verifier response that still has retries remaining; it carries no
// information of its own; everything relevant is accumulated in the
// enclosing Outcome via the closure below.
var errContentFailure = fmt.Errorf("verify: attempt reported failed, retrying")

// Run drives the bounded retry-with-exponential-backoff loop of SPEC_FULL.md
// §4.4 using cenkalti/backoff/v5's context-aware Retry, rather than a
// hand-rolled sleep loop. attemptFn is invoked once per attempt.
func Run(ctx context.Context, log *zap.Logger, m *metrics.Metrics, p Params, sink FeedbackSink, statusSink StatusSink, ticketID string, attemptFn func(ctx context.Context, attemptNum int) (Response, error)) (Outcome, error) {
	out := Outcome{FeedbackHistory: map[int][]string{}}
	attemptNum := 0

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.BaseDelay
	expBackoff.Multiplier = p.Multiplier
	expBackoff.MaxInterval = p.Cap
	expBackoff.RandomizationFactor = p.JitterFraction

	operation := func() (Response, error) {
		attemptNum++
		out.Attempts = attemptNum
		if m != nil {
			m.VerifyAttempts.Inc()
		}

		resp, err := attemptFn(ctx, attemptNum)
		if err != nil {
			if !Classify(err) {
				return Response{}, backoff.Permanent(fmt.Errorf("verify: fatal error on attempt %d: %w", attemptNum, err))
			}
			if m != nil {
				m.VerifyRetryable.Inc()
			}
			log.Warn("verifier call failed with a retryable error", zap.Int("attempt", attemptNum), zap.Error(err))
			resp = Response{Status: StatusFailed, FeedbackForAgent: []string{err.Error()}}
		}
		out.LastResponse = resp

		if resp.Status == StatusPassed || resp.ReadyForPR {
			if m != nil {
				m.VerifyPassed.Inc()
			}
			out.Passed = true
			return resp, nil
		}

		if m != nil {
			m.VerifyFailed.Inc()
		}
		out.FeedbackHistory[attemptNum] = resp.FeedbackForAgent
		if sink != nil && len(resp.FeedbackForAgent) > 0 {
			if err := sink.SaveFeedback(ctx, ticketID, attemptNum, resp.FeedbackForAgent); err != nil {
				log.Warn("failed to persist verifier feedback artifact", zap.Int("attempt", attemptNum), zap.Error(err))
			}
		}
		return Response{}, errContentFailure
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(p.MaxRetries)),
	)
	if out.Passed {
		setStatus(ctx, statusSink, log, ticketID, ticket.VerificationPassed)
		return out, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		setStatus(ctx, statusSink, log, ticketID, ticket.VerificationFailed)
		return out, permanent.Unwrap()
	}
	// Retries exhausted without a fatal error: the caller transitions the
	// ticket to needs_review (SPEC_FULL.md §4.4 step 5).
	out.Exhausted = true
	setStatus(ctx, statusSink, log, ticketID, ticket.VerificationFailed)
	return out, nil
}

// retryableSubstrings classifies transport-level failures as retryable
// (SPEC_FULL.md §4.4's "Retryable error classification").
var retryableSubstrings = []string{
	"timeout", "connection reset", "connection refused", "eof",
	"429", "502", "503", "504", "rate limit", "rate-limited", "too many requests",
}

// Classify reports whether err looks like a transient infrastructure failure
// that should be retried under the same backoff schedule, rather than a
// fatal/content error that should fail the ticket immediately.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
