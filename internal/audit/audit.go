// Package audit records every outbound generator/verifier call the engine
// makes against a ticket, in the spirit of the teacher's agents/audit.go
// AuditingSpawner: a decorator that wraps the real collaborator and logs
// prompt-sent/response-received/error events around each call, independent
// of the ticket_events trail C2 already maintains.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/generator"
	"github.com/forgelabs/engine/internal/verify"
)

// Entry is one row of the ticket_audit table.
type Entry struct {
	ID        string
	TicketID  string
	Actor     string // "generator" or "verifier"
	Action    string // "prompt_sent", "response_received", "error"
	Detail    string // JSON-encoded, truncated; raw error text for "error" rows
	CreatedAt time.Time
}

// Store persists audit entries. Its failure must never fail the call it is
// auditing, so every caller here treats a Store error as log-and-continue.
type Store interface {
	RecordAudit(ctx context.Context, e Entry) error
}

const maxDetailBytes = 50_000

func truncate(s string) string {
	if len(s) <= maxDetailBytes {
		return s
	}
	return s[:maxDetailBytes] + "...[truncated]"
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncate(string(b))
}

// AuditingGenerator wraps a Generator so every Generate call is recorded to
// store before and after it runs, mirroring AuditingSpawner.SpawnAgent.
type AuditingGenerator struct {
	generator.Generator
	store Store
	log   *zap.Logger
}

func NewAuditingGenerator(inner generator.Generator, store Store, log *zap.Logger) *AuditingGenerator {
	return &AuditingGenerator{Generator: inner, store: store, log: log}
}

func (g *AuditingGenerator) record(ctx context.Context, ticketID, action, detail string) {
	err := g.store.RecordAudit(ctx, Entry{
		ID:        ticketID + "-generator-" + action + "-" + time.Now().UTC().Format("20060102T150405.000000000Z"),
		TicketID:  ticketID,
		Actor:     "generator",
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		g.log.Warn("audit: record generator event failed", zap.String("ticket_id", ticketID), zap.String("action", action), zap.Error(err))
	}
}

func (g *AuditingGenerator) Generate(ctx context.Context, req generator.Request) (generator.Response, error) {
	g.record(ctx, req.TicketID, "prompt_sent", marshal(map[string]any{
		"attempt":            req.Attempt,
		"title":              req.Title,
		"hint_files":         req.HintFiles,
		"feedback_for_agent": req.FeedbackForAgent,
	}))

	resp, err := g.Generator.Generate(ctx, req)
	if err != nil {
		g.record(ctx, req.TicketID, "error", err.Error())
		return resp, err
	}

	g.record(ctx, req.TicketID, "response_received", marshal(map[string]any{
		"patch_count": len(resp.Patches),
		"summary":     resp.Summary,
	}))
	return resp, nil
}

// AuditingVerifier wraps a Verifier the same way AuditingGenerator wraps a
// Generator.
type AuditingVerifier struct {
	inner verify.Verifier
	store Store
	log   *zap.Logger
}

func NewAuditingVerifier(inner verify.Verifier, store Store, log *zap.Logger) *AuditingVerifier {
	return &AuditingVerifier{inner: inner, store: store, log: log}
}

var _ verify.Verifier = (*AuditingVerifier)(nil)

func (v *AuditingVerifier) record(ctx context.Context, ticketID, action, detail string) {
	err := v.store.RecordAudit(ctx, Entry{
		ID:        ticketID + "-verifier-" + action + "-" + time.Now().UTC().Format("20060102T150405.000000000Z"),
		TicketID:  ticketID,
		Actor:     "verifier",
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		v.log.Warn("audit: record verifier event failed", zap.String("ticket_id", ticketID), zap.String("action", action), zap.Error(err))
	}
}

func (v *AuditingVerifier) Verify(ctx context.Context, req verify.Request) (verify.Response, error) {
	v.record(ctx, req.TicketID, "prompt_sent", marshal(map[string]any{
		"attempt": req.Attempt,
		"phases":  req.Phases,
		"branch":  req.BranchName,
	}))

	resp, err := v.inner.Verify(ctx, req)
	if err != nil {
		v.record(ctx, req.TicketID, "error", err.Error())
		return resp, err
	}

	v.record(ctx, req.TicketID, "response_received", marshal(map[string]any{
		"status":         resp.Status,
		"ready_for_pr":   resp.ReadyForPR,
		"feedback_count": len(resp.FeedbackForAgent),
	}))
	return resp, nil
}
