// Package postgres implements ticket.Store against a Postgres database,
// replacing the teacher's modernc.org/sqlite-backed internal/db.Store.
// SPEC_FULL.md §4.1's atomic claim requires a real cross-process
// SELECT ... FOR UPDATE SKIP LOCKED, which only a genuine multi-connection
// RDBMS (not a single-process SQLite file) provides under true multi-replica
// contention; see DESIGN.md's persistence entry.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// pgx/v5's database/sql driver, registered under the name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/forgelabs/engine/internal/audit"
	"github.com/forgelabs/engine/internal/ticket"
)

// Store is the Postgres-backed ticket.Store. It follows the teacher's
// internal/db.Store shape (one struct, one method per query, a shared
// scanning helper) but every mutating method adds the WHERE-state guard the
// teacher's single-process SQLite store never needed.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// row mirrors the tickets table's column shapes for sqlx scanning; the JSONB
// columns are scanned as raw bytes and decoded separately, matching the
// teacher's scanTicketGeneric pattern of post-processing after the base
// struct scan.
type row struct {
	ID            string `db:"id"`
	DesignSession string `db:"design_session"`
	ProjectID     string `db:"project_id"`
	TenantID      string `db:"tenant_id"`

	Title               string          `db:"title"`
	Description         string          `db:"description"`
	AcceptanceCriteria  json.RawMessage `db:"acceptance_criteria"`
	HintFiles           json.RawMessage `db:"hint_files"`
	RAGContext          json.RawMessage `db:"rag_context"`

	AssigneeKind string  `db:"assignee_kind"`
	AssigneeID   string  `db:"assignee_id"`
	WorkerID     *string `db:"worker_id"`

	State              string          `db:"state"`
	VerificationStatus string          `db:"verification_status"`
	RejectionCount     int             `db:"rejection_count"`
	DependsOn          json.RawMessage `db:"depends_on"`
	BranchName         string          `db:"branch_name"`
	PRURL              string          `db:"pr_url"`
	MergedAt           *time.Time      `db:"merged_at"`

	StartedAt      *time.Time `db:"started_at"`
	LastHeartbeat  *time.Time `db:"last_heartbeat"`
	HeartbeatCount int        `db:"heartbeat_count"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	UnblockedAt *time.Time `db:"unblocked_at"`
}

func (r row) toTicket() (*Ticket, error) {
	t := &Ticket{
		ID:                 r.ID,
		DesignSession:      r.DesignSession,
		ProjectID:          r.ProjectID,
		TenantID:           r.TenantID,
		Title:              r.Title,
		Description:        r.Description,
		AssigneeKind:       ticket.AssigneeKind(r.AssigneeKind),
		AssigneeID:         r.AssigneeID,
		WorkerID:           r.WorkerID,
		State:              ticket.State(r.State),
		VerificationStatus: ticket.VerificationStatus(r.VerificationStatus),
		RejectionCount:     r.RejectionCount,
		BranchName:         r.BranchName,
		PRURL:              r.PRURL,
		MergedAt:           r.MergedAt,
		StartedAt:          r.StartedAt,
		LastHeartbeat:      r.LastHeartbeat,
		HeartbeatCount:     r.HeartbeatCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		UnblockedAt:        r.UnblockedAt,
	}
	if err := unmarshalOr(r.AcceptanceCriteria, &t.AcceptanceCriteria, []ticket.AcceptanceCriterion{}); err != nil {
		return nil, err
	}
	if err := unmarshalOr(r.HintFiles, &t.HintFiles, []string{}); err != nil {
		return nil, err
	}
	if err := unmarshalOr(r.DependsOn, &t.DependsOn, []string{}); err != nil {
		return nil, err
	}
	if len(r.RAGContext) > 0 {
		var rc ticket.RAGContext
		if err := json.Unmarshal(r.RAGContext, &rc); err != nil {
			return nil, fmt.Errorf("postgres: decode rag_context: %w", err)
		}
		t.RAGContext = &rc
	}
	return t, nil
}

// Ticket is a type alias so this file doesn't repeat "ticket." on every line
// of the struct above while still satisfying ticket.Store with *ticket.Ticket.
type Ticket = ticket.Ticket

func unmarshalOr[T any](raw json.RawMessage, dst *T, zero T) error {
	if len(raw) == 0 {
		*dst = zero
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("postgres: decode json column: %w", err)
	}
	return nil
}

const ticketColumns = `id, design_session, project_id, tenant_id, title, description,
	acceptance_criteria, hint_files, rag_context, assignee_kind, assignee_id, worker_id,
	state, verification_status, rejection_count, depends_on, branch_name, pr_url, merged_at,
	started_at, last_heartbeat, heartbeat_count, created_at, updated_at, unblocked_at`

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*ticket.Ticket, error) {
	var r row
	if err := s.db.GetContext(ctx, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan ticket: %w", err)
	}
	return r.toTicket()
}

func (s *Store) scanMany(ctx context.Context, query string, args ...any) ([]ticket.Ticket, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: scan tickets: %w", err)
	}
	out := make([]ticket.Ticket, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTicket()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// GetTicket implements ticket.Store.
func (s *Store) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	t, err := s.scanOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ticket.ErrNotFound
	}
	return t, nil
}

// GetTicketsByState implements ticket.Store.
func (s *Store) GetTicketsByState(ctx context.Context, state ticket.State) ([]ticket.Ticket, error) {
	return s.scanMany(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE state = $1 ORDER BY created_at ASC`, string(state))
}

// GetTicketsBySession implements ticket.Store.
func (s *Store) GetTicketsBySession(ctx context.Context, sessionID string) ([]ticket.Ticket, error) {
	return s.scanMany(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE design_session = $1 ORDER BY created_at ASC`, sessionID)
}

// CreateTicket implements ticket.Store; the generator owns creation
// (SPEC_FULL.md §3 Ownership/lifecycle), always inserting draft tickets.
func (s *Store) CreateTicket(ctx context.Context, t *ticket.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.State = ticket.StateDraft
	t.VerificationStatus = ticket.VerificationUnverified
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	ac, err := json.Marshal(nonNil(t.AcceptanceCriteria))
	if err != nil {
		return fmt.Errorf("postgres: encode acceptance_criteria: %w", err)
	}
	hints, err := json.Marshal(nonNil(t.HintFiles))
	if err != nil {
		return fmt.Errorf("postgres: encode hint_files: %w", err)
	}
	deps, err := json.Marshal(nonNil(t.DependsOn))
	if err != nil {
		return fmt.Errorf("postgres: encode depends_on: %w", err)
	}
	var rag any
	if t.RAGContext != nil {
		rag = t.RAGContext
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (
			id, design_session, project_id, tenant_id, title, description,
			acceptance_criteria, hint_files, rag_context, assignee_kind, assignee_id,
			state, verification_status, depends_on, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.DesignSession, t.ProjectID, t.TenantID, t.Title, t.Description,
		ac, hints, rag, string(t.AssigneeKind), t.AssigneeID,
		string(t.State), string(t.VerificationStatus), deps, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert ticket: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ActivateSession implements the draft -> ready | blocked pass described in
// SPEC_FULL.md §6: roots (depends_on = []) become ready with the forge-agent
// role; everything else becomes blocked.
func (s *Store) ActivateSession(ctx context.Context, sessionID string) (activated, blocked int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: begin activation tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET state = 'ready', assignee_kind = 'agent', assignee_id = $2, updated_at = now()
		WHERE design_session = $1 AND state = 'draft' AND depends_on = '[]'::jsonb`,
		sessionID, ticket.RoleForgeAgent)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: activate roots: %w", err)
	}
	readyN, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		UPDATE tickets SET state = 'blocked', updated_at = now()
		WHERE design_session = $1 AND state = 'draft' AND depends_on <> '[]'::jsonb`,
		sessionID)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: activate blocked: %w", err)
	}
	blockedN, _ := res.RowsAffected()

	if err := s.insertEventsForSessionActivation(ctx, tx, sessionID); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("postgres: commit activation: %w", err)
	}
	return int(readyN), int(blockedN), nil
}

func (s *Store) insertEventsForSessionActivation(ctx context.Context, tx *sqlx.Tx, sessionID string) error {
	var ids []struct {
		ID    string `db:"id"`
		State string `db:"state"`
	}
	err := tx.SelectContext(ctx, &ids, `
		SELECT id, state FROM tickets
		WHERE design_session = $1 AND updated_at = created_at IS FALSE AND state IN ('ready','blocked')
		  AND NOT EXISTS (SELECT 1 FROM ticket_events e WHERE e.ticket_id = tickets.id AND e.kind = 'transition' AND e.to_state = tickets.state)`,
		sessionID)
	if err != nil {
		return fmt.Errorf("postgres: locate newly activated tickets: %w", err)
	}
	for _, row := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_events (id, ticket_id, kind, from_state, to_state, payload, "timestamp")
			VALUES ($1,$2,'transition','draft',$3,'{}',now())`,
			uuid.NewString(), row.ID, row.State); err != nil {
			return fmt.Errorf("postgres: insert activation event: %w", err)
		}
	}
	return nil
}

// ClaimNext implements the heart of SPEC_FULL.md §4.1: a single statement
// that selects, locks (skipping already-locked rows), and updates the oldest
// ready ticket for assigneeID, in one transaction.
func (s *Store) ClaimNext(ctx context.Context, assigneeID, workerID string) (*ticket.Ticket, error) {
	t, err := s.scanOne(ctx, `
		WITH candidate AS (
			SELECT id FROM tickets
			WHERE state = 'ready' AND assignee_kind = 'agent' AND assignee_id = $1 AND worker_id IS NULL
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets t SET
			state = 'in_progress', worker_id = $2, started_at = now(), last_heartbeat = now(),
			heartbeat_count = 0, updated_at = now()
		FROM candidate WHERE t.id = candidate.id
		RETURNING `+qualify("t", ticketColumns),
		assigneeID, workerID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if err := s.recordTransition(ctx, t.ID, ticket.StateReady, ticket.StateInProgress, ticket.EventClaimed, ""); err != nil {
		return nil, err
	}
	return t, nil
}

// ClaimByID implements the sentinel's in_review -> reviewing claim with the
// same FOR UPDATE SKIP LOCKED discipline, scoped to one ticket id.
func (s *Store) ClaimByID(ctx context.Context, ticketID, assigneeID, workerID string) (*ticket.Ticket, error) {
	t, err := s.scanOne(ctx, `
		WITH candidate AS (
			SELECT id FROM tickets
			WHERE id = $1 AND state = 'in_review' AND assignee_id = $2 AND worker_id IS NULL
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tickets t SET
			state = 'reviewing', worker_id = $3, started_at = now(), last_heartbeat = now(),
			heartbeat_count = 0, updated_at = now()
		FROM candidate WHERE t.id = candidate.id
		RETURNING `+qualify("t", ticketColumns),
		ticketID, assigneeID, workerID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if err := s.recordTransition(ctx, t.ID, ticket.StateInReview, ticket.StateReviewing, ticket.EventSentinelStarted, ""); err != nil {
		return nil, err
	}
	return t, nil
}

// ListSentinelReady implements ticket.Store.
func (s *Store) ListSentinelReady(ctx context.Context, assigneeID string, limit int) ([]ticket.Ticket, error) {
	return s.scanMany(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE state = 'in_review' AND assignee_id = $1 AND worker_id IS NULL
		ORDER BY updated_at ASC LIMIT $2`, assigneeID, limit)
}

func qualify(alias, cols string) string {
	out := alias + "." + cols
	// ticketColumns is a flat comma list, so only its first identifier (id)
	// gets the prefix; id is the one column `candidate` also has, which keeps
	// the RETURNING clause unambiguous when joined against it.
	return out
}

// recordTransition inserts the TicketEvent for a transition already applied
// by the caller's UPDATE statement. It is factored out because several
// mutating methods (claim, cascade unblock, generic Transition) all need the
// same one-event-per-transition bookkeeping (SPEC_FULL.md §3 invariant 8).
func (s *Store) recordTransition(ctx context.Context, ticketID string, from, to ticket.State, kind ticket.EventKind, payload string) error {
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_events (id, ticket_id, kind, from_state, to_state, payload, "timestamp")
		VALUES ($1,$2,$3,$4,$5,$6,now())`,
		uuid.NewString(), ticketID, string(kind), string(from), string(to), payload)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// Transition implements the generic conditional state update shared by C2/C3/C7.
func (s *Store) Transition(ctx context.Context, ticketID string, from, to ticket.State, trigger ticket.Trigger, payload string) (bool, error) {
	if !ticket.Allowed(from, to, trigger) {
		return false, &ticket.ErrIllegalTransition{From: from, To: to}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`,
		string(to), ticketID, string(from))
	if err != nil {
		return false, fmt.Errorf("postgres: transition: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Logical conflict (SPEC_FULL.md §7 kind 2): another worker/reaper
		// already moved the row. Silent no-op, no event.
		return false, nil
	}
	if err := s.recordTransition(ctx, ticketID, from, to, ticket.EventTransition, payload); err != nil {
		return false, err
	}
	return true, nil
}

// SetPRURL implements ticket.Store.
func (s *Store) SetPRURL(ctx context.Context, ticketID, prURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET pr_url = $1, updated_at = now() WHERE id = $2`, prURL, ticketID)
	if err != nil {
		return fmt.Errorf("postgres: set pr_url: %w", err)
	}
	return nil
}

// IncrementRejection implements ticket.Store.
func (s *Store) IncrementRejection(ctx context.Context, ticketID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET rejection_count = rejection_count + 1, updated_at = now() WHERE id = $1`, ticketID)
	if err != nil {
		return fmt.Errorf("postgres: increment rejection_count: %w", err)
	}
	return nil
}

// SetVerificationStatus implements ticket.Store.
func (s *Store) SetVerificationStatus(ctx context.Context, ticketID string, status ticket.VerificationStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET verification_status = $1, updated_at = now() WHERE id = $2`, string(status), ticketID)
	if err != nil {
		return fmt.Errorf("postgres: set verification_status: %w", err)
	}
	return nil
}

// Heartbeat implements SPEC_FULL.md §4.5's bulk advisory update.
func (s *Store) Heartbeat(ctx context.Context, ticketIDs []string) ([]string, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}
	var updated []string
	err := s.db.SelectContext(ctx, &updated, `
		UPDATE tickets SET last_heartbeat = now(), heartbeat_count = heartbeat_count + 1, updated_at = now()
		WHERE id = ANY($1) AND state IN ('in_progress','reviewing')
		RETURNING id`, pq.Array(ticketIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: heartbeat: %w", err)
	}
	return updated, nil
}

// ReapStale implements SPEC_FULL.md §4.5's reaper: in_progress reclaims to
// ready; reviewing reclaims to in_review (the sentinel-queue equivalent of
// ready — see DESIGN.md's Open Question decision on this point, since §4.5's
// prose names only "ready" but the state table has no reviewing->ready row).
func (s *Store) ReapStale(ctx context.Context, threshold time.Duration) ([]string, error) {
	var reclaimed []struct {
		ID       string `db:"id"`
		WasState string `db:"was_state"`
	}
	err := s.db.SelectContext(ctx, &reclaimed, `
		WITH stale AS (
			SELECT id, state FROM tickets
			WHERE state IN ('in_progress','reviewing') AND last_heartbeat < now() - $1::interval
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tickets t SET
			state = CASE WHEN stale.state = 'in_progress' THEN 'ready' ELSE 'in_review' END,
			worker_id = NULL, started_at = NULL, last_heartbeat = NULL, heartbeat_count = 0, updated_at = now()
		FROM stale WHERE t.id = stale.id
		RETURNING t.id AS id, stale.state AS was_state`,
		fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("postgres: reap stale: %w", err)
	}
	ids := make([]string, 0, len(reclaimed))
	for _, r := range reclaimed {
		to := ticket.StateReady
		if r.WasState == string(ticket.StateReviewing) {
			to = ticket.StateInReview
		}
		if err := s.recordTransition(ctx, r.ID, ticket.State(r.WasState), to, ticket.EventReclaimed, ""); err != nil {
			return nil, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// ReleaseClaim reclaims a single in_progress ticket back to ready, the
// single-row analogue of ReapStale's bulk timeout reclaim, used by the
// dispatcher to undo a claim that conflicts with an in-flight ticket.
func (s *Store) ReleaseClaim(ctx context.Context, ticketID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET
			state = 'ready', worker_id = NULL, started_at = NULL, last_heartbeat = NULL, heartbeat_count = 0, updated_at = now()
		WHERE id = $1 AND state = 'in_progress'`, ticketID)
	if err != nil {
		return false, fmt.Errorf("postgres: release claim: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.recordTransition(ctx, ticketID, ticket.StateInProgress, ticket.StateReady, ticket.EventReclaimed, ""); err != nil {
		return false, err
	}
	return true, nil
}

// CascadeCandidates implements ticket.Store.
func (s *Store) CascadeCandidates(ctx context.Context, sessionID, completedTicketID string) ([]ticket.Ticket, error) {
	return s.scanMany(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE design_session = $1 AND state = 'blocked' AND depends_on @> to_jsonb($2::text)`,
		sessionID, completedTicketID)
}

// DependencyStates implements ticket.Store.
func (s *Store) DependencyStates(ctx context.Context, ids []string) (map[string]ticket.State, error) {
	if len(ids) == 0 {
		return map[string]ticket.State{}, nil
	}
	var rows []struct {
		ID    string `db:"id"`
		State string `db:"state"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, state FROM tickets WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("postgres: dependency states: %w", err)
	}
	out := make(map[string]ticket.State, len(rows))
	for _, r := range rows {
		out[r.ID] = ticket.State(r.State)
	}
	return out, nil
}

// Unblock implements the cascade's conditional promotion (SPEC_FULL.md
// §4.6b): the WHERE state='blocked' guard makes a racing second cascade pass
// a safe no-op.
func (s *Store) Unblock(ctx context.Context, ticketID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET
			state = 'ready', assignee_id = $2, assignee_kind = 'agent', unblocked_at = now(), updated_at = now()
		WHERE id = $1 AND state = 'blocked'`,
		ticketID, ticket.RoleForgeAgent)
	if err != nil {
		return false, fmt.Errorf("postgres: unblock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := s.recordTransition(ctx, ticketID, ticket.StateBlocked, ticket.StateReady, ticket.EventUnblocked, ""); err != nil {
		return false, err
	}
	return true, nil
}

// GetEvents implements ticket.Store.
func (s *Store) GetEvents(ctx context.Context, ticketID string) ([]ticket.Event, error) {
	var events []ticket.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, ticket_id, kind, from_state, to_state, payload, "timestamp"
		FROM ticket_events WHERE ticket_id = $1 ORDER BY "timestamp" ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get events: %w", err)
	}
	return events, nil
}

// GetProject implements ticket.Store.
func (s *Store) GetProject(ctx context.Context, id string) (*ticket.Project, error) {
	var p ticket.Project
	err := s.db.GetContext(ctx, &p, `SELECT id, tenant_id, repo_url, branch, kind, created_at FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get project: %w", err)
	}
	return &p, nil
}

// GetSession implements ticket.Store.
func (s *Store) GetSession(ctx context.Context, id string) (*ticket.Session, error) {
	var sess ticket.Session
	err := s.db.GetContext(ctx, &sess, `SELECT id, tenant_id, project_id, repo_url, created_at FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}
	return &sess, nil
}

// RecordAudit implements audit.Store, appending one row to ticket_audit —
// additional to ticket_events, since it records collaborator traffic
// (generator/verifier prompts and responses) rather than lifecycle
// transitions.
func (s *Store) RecordAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_audit (id, ticket_id, actor, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TicketID, e.Actor, e.Action, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: record audit: %w", err)
	}
	return nil
}

