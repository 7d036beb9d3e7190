// Package executor implements C3, the execution coordinator: turning one
// claimed ticket into a branch, a generated patch, a pushed commit, and
// (once verification passes) a pull request. Grounded in orchestrator.go's
// runDevAgent/processDevStage per-ticket task shape (claim-to-terminal-state
// error handling) and agents/spawner.go's template-driven external-process
// invocation, adapted here into a call against the generator.Generator
// interface instead of spawning a local CLI subprocess.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/forgelabs/engine/internal/eventbus"
	"github.com/forgelabs/engine/internal/generator"
	"github.com/forgelabs/engine/internal/gitops"
	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/rag"
	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/vcs"
	"github.com/forgelabs/engine/internal/verify"
)

// Retriever is the subset of rag.Retriever the executor calls before each
// generation attempt. A nil Retriever is valid: RAG context is optional
// enrichment (SPEC_FULL.md §12), not a dependency.
type Retriever interface {
	RetrieveForTicket(ctx context.Context, t ticket.Ticket) ([]generator.RAGSnippet, error)
}

var _ Retriever = (*rag.Retriever)(nil)

// Verifier is the subset of the Verifier external interface the executor
// calls through verify.Run.
type Verifier = verify.Verifier

// Executor implements dispatcher.Executor.
type Executor struct {
	store      ticket.Store
	worktrees  *gitops.Worktrees
	gen        generator.Generator
	verifier   Verifier
	host       vcs.Host
	bus        eventbus.Bus
	log        *zap.Logger
	m          *metrics.Metrics
	verifyP    verify.Params
	baseBranch string
	retriever  Retriever
}

func New(store ticket.Store, worktrees *gitops.Worktrees, gen generator.Generator, verifier Verifier, host vcs.Host, bus eventbus.Bus, log *zap.Logger, m *metrics.Metrics, verifyP verify.Params, baseBranch string, retriever Retriever) *Executor {
	return &Executor{
		store: store, worktrees: worktrees, gen: gen, verifier: verifier, host: host, bus: bus,
		log: log, m: m, verifyP: verifyP, baseBranch: baseBranch, retriever: retriever,
	}
}

// Execute runs the full C3 pipeline for an already-claimed ticket. An error
// ends the run: fail moves the ticket to cancelled from whatever state it is
// in at that moment. An exhausted verification budget moves it to
// needs_review instead.
func (e *Executor) Execute(ctx context.Context, t ticket.Ticket) {
	log := e.log.With(zap.String("ticket_id", t.ID))

	repoURL, err := e.resolveRepoURL(ctx, t)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}

	worktreePath, err := e.worktrees.Create(ctx, t.ID, t.BranchName)
	if err != nil {
		e.fail(ctx, t, fmt.Errorf("executor: worktree: %w", err))
		return
	}

	feedback := map[int][]string{}
	attemptFn := func(ctx context.Context, attemptNum int) (verify.Response, error) {
		return e.runAttempt(ctx, log, t, repoURL, worktreePath, attemptNum, flatten(feedback))
	}

	sink := feedbackSink{feedback: feedback}
	outcome, err := verify.Run(ctx, e.log, e.m, e.verifyP, sink, e.store, t.ID, attemptFn)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}

	if !outcome.Passed {
		if _, err := e.store.Transition(ctx, t.ID, ticket.StateVerifying, ticket.StateNeedsReview, ticket.TriggerExecutor, ""); err != nil {
			log.Error("executor: failed to transition to needs_review", zap.Error(err))
		}
		if e.m != nil {
			e.m.TicketsNeedsReview.Inc()
		}
		e.bus.Publish(eventbus.KindTicketUpdate, t.ID, t.DesignSession, map[string]string{"state": string(ticket.StateNeedsReview)})
		return
	}

	if err := e.openPR(ctx, log, t, repoURL, worktreePath); err != nil {
		e.fail(ctx, t, err)
		return
	}
}

func flatten(feedback map[int][]string) []string {
	var out []string
	for _, lines := range feedback {
		out = append(out, lines...)
	}
	return out
}

type feedbackSink struct {
	feedback map[int][]string
}

func (f feedbackSink) SaveFeedback(_ context.Context, _ string, attempt int, lines []string) error {
	f.feedback[attempt] = lines
	return nil
}

// resolveRepoURL implements §4.3 step 1: project -> session, first non-empty
// wins. A ticket carries no repo_url of its own; the session step tries the
// session's repo_url, then the repo_url of the session's project.
func (e *Executor) resolveRepoURL(ctx context.Context, t ticket.Ticket) (string, error) {
	if p, err := e.store.GetProject(ctx, t.ProjectID); err == nil && p.RepoURL != "" {
		return p.RepoURL, nil
	}
	if s, err := e.store.GetSession(ctx, t.DesignSession); err == nil {
		if s.RepoURL != "" {
			return s.RepoURL, nil
		}
		if p, err := e.store.GetProject(ctx, s.ProjectID); err == nil && p.RepoURL != "" {
			return p.RepoURL, nil
		}
	}
	return "", fmt.Errorf("executor: no repo_url resolvable for ticket %s", t.ID)
}

// runAttempt is §4.3 steps 3-6 for one verification attempt: generate,
// patch, commit, push, set verifying.
func (e *Executor) runAttempt(ctx context.Context, log *zap.Logger, t ticket.Ticket, repoURL, worktreePath string, attemptNum int, feedback []string) (verify.Response, error) {
	var ragSnippets []generator.RAGSnippet
	if e.retriever != nil {
		snippets, err := e.retriever.RetrieveForTicket(ctx, t)
		if err != nil {
			log.Warn("executor: rag retrieval failed, continuing without context", zap.Error(err))
		} else {
			ragSnippets = snippets
		}
	}

	resp, err := e.gen.Generate(ctx, generator.Request{
		TicketID:           t.ID,
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: criteriaText(t.AcceptanceCriteria),
		HintFiles:          t.HintFiles,
		RAGSnippets:        ragSnippets,
		FeedbackForAgent:   feedback,
		Attempt:            attemptNum,
	})
	if err != nil {
		return verify.Response{}, fmt.Errorf("executor: generator: %w", err)
	}

	if err := ApplyPatches(worktreePath, resp.Patches); err != nil {
		log.Warn("executor: patch application failed, file left untouched", zap.Error(err))
		// Per §4.3 step 4, a non-applying patch doesn't abort the attempt —
		// verification will simply fail to find the expected change.
	}

	if err := e.worktrees.Commit(ctx, worktreePath, commitMessage(t, resp.Summary, attemptNum)); err != nil {
		return verify.Response{}, fmt.Errorf("executor: commit: %w", err)
	}
	if err := e.worktrees.Push(ctx, worktreePath); err != nil {
		return verify.Response{}, fmt.Errorf("executor: push: %w", err)
	}

	if _, err := e.store.Transition(ctx, t.ID, ticket.StateInProgress, ticket.StateVerifying, ticket.TriggerExecutor, ""); err != nil {
		log.Warn("executor: transition to verifying was a no-op or failed", zap.Error(err))
	}
	e.bus.Publish(eventbus.KindTicketProgress, t.ID, t.DesignSession, map[string]any{"phase": "verifying", "attempt": attemptNum})

	return e.verifier.Verify(ctx, verify.Request{
		TicketID:           t.ID,
		BranchName:         t.BranchName,
		RepoURL:            repoURL,
		Attempt:            attemptNum,
		AcceptanceCriteria: criteriaText(t.AcceptanceCriteria),
		Phases:             []verify.Phase{verify.PhaseStatic, verify.PhaseAutomated},
	})
}

func criteriaText(items []ticket.AcceptanceCriterion) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Text
	}
	return out
}

var commitTmpl = template.Must(template.New("commit").Parse("{{.Title}} (attempt {{.Attempt}})\n\n{{.Summary}}\n"))

func commitMessage(t ticket.Ticket, summary string, attempt int) string {
	var buf bytes.Buffer
	_ = commitTmpl.Execute(&buf, struct {
		Title   string
		Attempt int
		Summary string
	}{t.Title, attempt, summary})
	return buf.String()
}

// openPR implements §4.3 steps 7, and the "already exists" idempotence rule
// of §4.3's failure semantics.
func (e *Executor) openPR(ctx context.Context, log *zap.Logger, t ticket.Ticket, repoURL, worktreePath string) error {
	scope := scopeLabel(t)
	body := prBody(t, scope)

	pr, err := e.host.CreatePR(ctx, vcs.CreatePRRequest{
		RepoURL:    repoURL,
		Title:      t.Title,
		Body:       body,
		HeadBranch: t.BranchName,
		BaseBranch: e.baseBranch,
		Labels:     []string{"swarm-generated", "scope:" + scope},
	})
	if err != nil {
		return fmt.Errorf("executor: create PR: %w", err)
	}

	if err := e.store.SetPRURL(ctx, t.ID, pr.URL); err != nil {
		return fmt.Errorf("executor: persist pr_url: %w", err)
	}
	if _, err := e.store.Transition(ctx, t.ID, ticket.StateVerifying, ticket.StateInReview, ticket.TriggerExecutor, pr.URL); err != nil {
		return fmt.Errorf("executor: transition to in_review: %w", err)
	}

	// Render the body to HTML for the dashboard's live event feed, the same
	// way internal/web/server.go renders markdown for its templates; GitHub
	// itself renders the markdown body directly.
	var html bytes.Buffer
	bodyHTML := body
	if err := goldmark.Convert([]byte(body), &html); err == nil {
		bodyHTML = html.String()
	}
	e.bus.Publish(eventbus.KindPRCreated, t.ID, t.DesignSession, map[string]string{"pr_url": pr.URL, "body_html": bodyHTML})
	log.Info("executor: PR opened", zap.String("pr_url", pr.URL))
	return nil
}

// scopeLabel derives a coarse size label from the ticket's declared file
// footprint (SPEC_FULL.md §4.3's scope:<small|medium|large> label).
func scopeLabel(t ticket.Ticket) string {
	n := len(t.HintFiles)
	if t.RAGContext != nil {
		n += len(t.RAGContext.FilesToCreate) + len(t.RAGContext.FilesToModify)
	}
	switch {
	case n <= 2:
		return "small"
	case n <= 6:
		return "medium"
	default:
		return "large"
	}
}

// prBody renders the PR description: ticket id, description, an acceptance
// criteria checklist, and a human-readable scope line.
func prBody(t ticket.Ticket, scope string) string {
	var md strings.Builder
	fmt.Fprintf(&md, "**Ticket:** `%s`\n\n%s\n\n", t.ID, t.Description)
	fmt.Fprintf(&md, "**Scope:** %s\n\n", cases.Title(language.English).String(scope))
	md.WriteString("**Acceptance criteria**\n\n")
	for _, c := range t.AcceptanceCriteria {
		box := " "
		if c.Met {
			box = "x"
		}
		fmt.Fprintf(&md, "- [%s] %s\n", box, c.Text)
	}
	return md.String()
}

func (e *Executor) fail(ctx context.Context, t ticket.Ticket, cause error) {
	e.log.Error("executor: ticket failed", zap.String("ticket_id", t.ID), zap.Error(cause))
	if e.m != nil {
		e.m.TicketsFailed.Inc()
	}
	e.bus.Publish(eventbus.KindTicketActivity, t.ID, t.DesignSession, map[string]string{"kind": "failed", "error": cause.Error()})
	from := t.State
	if cur, err := e.store.GetTicket(ctx, t.ID); err == nil {
		from = cur.State
	}
	_, _ = e.store.Transition(ctx, t.ID, from, ticket.StateCancelled, ticket.TriggerExternal, cause.Error())
}
