// Package ticket defines the Engine's central data model: tickets, their
// lifecycle events, and the projects/sessions that scope them.
package ticket

import "time"

// State is one of the twelve legal lifecycle states of a ticket (SPEC_FULL.md §4.2).
type State string

const (
	StateDraft           State = "draft"
	StateReady           State = "ready"
	StateBlocked         State = "blocked"
	StateInProgress      State = "in_progress"
	StateVerifying       State = "verifying"
	StateInReview        State = "in_review"
	StateReviewing       State = "reviewing"
	StateNeedsReview     State = "needs_review"
	StateMerged          State = "merged"
	StateDone            State = "done"
	StateCancelled       State = "cancelled"
	StateSentinelFailed  State = "sentinel_failed"
)

// Terminal reports whether a state is one of the five states from which no
// automatic transition occurs (merged, done, cancelled, needs_review,
// sentinel_failed). needs_review and sentinel_failed are human-gated, not
// final-final; cancelled is the only truly final state.
func (s State) Terminal() bool {
	switch s {
	case StateMerged, StateDone, StateCancelled, StateNeedsReview, StateSentinelFailed:
		return true
	default:
		return false
	}
}

// TerminalSuccess reports whether a state counts as "done" for cascade
// purposes (SPEC_FULL.md §4.6, §9 merged-vs-done note).
func (s State) TerminalSuccess() bool {
	return s == StateMerged || s == StateDone
}

// AssigneeKind distinguishes human from agent assignees.
type AssigneeKind string

const (
	AssigneeHuman AssigneeKind = "human"
	AssigneeAgent AssigneeKind = "agent"
)

// Well-known agent role tags (SPEC_FULL.md §9 sentinel-claim-scope note:
// these are role tags, not identities).
const (
	RoleForgeAgent    = "forge-agent"
	RoleSentinelAgent = "sentinel-agent"
)

// VerificationStatus tracks the outcome of the most recent verification pass.
type VerificationStatus string

const (
	VerificationUnverified      VerificationStatus = "unverified"
	VerificationPassed          VerificationStatus = "passed"
	VerificationFailed          VerificationStatus = "failed"
	VerificationSentinelReject  VerificationStatus = "sentinel_rejected"
	VerificationVerifying       VerificationStatus = "verifying"
)

// AcceptanceCriterion is one testable item of a ticket's acceptance criteria.
type AcceptanceCriterion struct {
	ID   string `json:"id" db:"id"`
	Text string `json:"text" db:"text"`
	Met  bool   `json:"met" db:"met"`
}

// RAGContext enumerates the files a ticket is expected to touch, as surfaced
// by the spec→tickets generator or by the RAG retriever (SPEC_FULL.md §12).
type RAGContext struct {
	FilesToCreate []string `json:"files_to_create,omitempty"`
	FilesToModify []string `json:"files_to_modify,omitempty"`
}

// Ticket is the central entity of the Engine (SPEC_FULL.md §3).
type Ticket struct {
	ID             string   `db:"id" json:"id"`
	DesignSession  string   `db:"design_session" json:"design_session"`
	ProjectID      string   `db:"project_id" json:"project_id"`
	TenantID       string   `db:"tenant_id" json:"tenant_id"`

	Title              string                `db:"title" json:"title"`
	Description        string                `db:"description" json:"description"`
	AcceptanceCriteria []AcceptanceCriterion  `db:"-" json:"acceptance_criteria"`
	HintFiles          []string              `db:"-" json:"hint_files,omitempty"`
	RAGContext         *RAGContext           `db:"-" json:"rag_context,omitempty"`

	AssigneeKind AssigneeKind `db:"assignee_kind" json:"assignee_kind"`
	AssigneeID   string       `db:"assignee_id" json:"assignee_id"`
	WorkerID     *string      `db:"worker_id" json:"worker_id,omitempty"`

	State              State              `db:"state" json:"state"`
	VerificationStatus VerificationStatus `db:"verification_status" json:"verification_status"`
	RejectionCount     int                `db:"rejection_count" json:"rejection_count"`
	DependsOn          []string           `db:"-" json:"depends_on"`
	BranchName         string             `db:"branch_name" json:"branch_name,omitempty"`
	PRURL              string             `db:"pr_url" json:"pr_url,omitempty"`
	MergedAt           *time.Time         `db:"merged_at" json:"merged_at,omitempty"`

	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	LastHeartbeat  *time.Time `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	HeartbeatCount int        `db:"heartbeat_count" json:"heartbeat_count"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	UnblockedAt *time.Time `db:"unblocked_at" json:"unblocked_at,omitempty"`
}

// EventKind names the kind of a TicketEvent.
type EventKind string

const (
	EventTransition      EventKind = "transition"
	EventClaimed         EventKind = "claimed"
	EventReclaimed       EventKind = "reclaimed"
	EventUnblocked       EventKind = "unblocked"
	EventCommit          EventKind = "commit"
	EventPRCreated       EventKind = "pr_created"
	EventVerifyAttempt   EventKind = "verify_attempt"
	EventSentinelStarted EventKind = "sentinel_started"
	EventMerged          EventKind = "merged"
	EventFailed          EventKind = "failed"
	EventConflictWarn    EventKind = "conflict_warn"
)

// Event is an append-only activity record; every state transition emits
// exactly one (SPEC_FULL.md §3 invariant 8).
type Event struct {
	ID        string    `db:"id" json:"id"`
	TicketID  string    `db:"ticket_id" json:"ticket_id"`
	Kind      EventKind `db:"kind" json:"kind"`
	FromState State     `db:"from_state" json:"from_state"`
	ToState   State     `db:"to_state" json:"to_state"`
	Payload   string    `db:"payload" json:"payload,omitempty"` // JSON-encoded
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// ProjectKind distinguishes generic repositories from the build_feature flow.
type ProjectKind string

const (
	ProjectGeneric      ProjectKind = "generic"
	ProjectBuildFeature ProjectKind = "build_feature"
)

// Project carries repository coordinates for the tickets scoped to it.
type Project struct {
	ID        string      `db:"id" json:"id"`
	TenantID  string      `db:"tenant_id" json:"tenant_id"`
	RepoURL   string      `db:"repo_url" json:"repo_url"`
	Branch    string      `db:"branch" json:"branch"`
	Kind      ProjectKind `db:"kind" json:"kind"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Session is the upstream spec-authoring session; the core only consumes its
// id as a cascade scoping tag and, as a repo_url fallback, its project link.
type Session struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	RepoURL   string    `db:"repo_url" json:"repo_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
