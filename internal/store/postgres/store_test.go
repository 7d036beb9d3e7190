package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/engine/internal/ticket"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func ticketRowCols() []string {
	return []string{
		"id", "design_session", "project_id", "tenant_id", "title", "description",
		"acceptance_criteria", "hint_files", "rag_context", "assignee_kind", "assignee_id", "worker_id",
		"state", "verification_status", "rejection_count", "depends_on", "branch_name", "pr_url", "merged_at",
		"started_at", "last_heartbeat", "heartbeat_count", "created_at", "updated_at", "unblocked_at",
	}
}

func TestClaimNext_EmptyQueueReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WITH candidate AS")).
		WithArgs("forge-agent", "worker-1").
		WillReturnRows(sqlmock.NewRows(ticketRowCols()))

	got, err := s.ClaimNext(context.Background(), "forge-agent", "worker-1")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_ReturnsClaimedTicketAndRecordsEvent(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(ticketRowCols()).AddRow(
		"t-1", "sess-1", "proj-1", "tenant-1", "Add endpoint", "desc",
		[]byte(`[]`), []byte(`[]`), nil, "agent", "forge-agent", "worker-1",
		"in_progress", "unverified", 0, []byte(`[]`), "", "", nil,
		now, now, 0, now, now, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WITH candidate AS")).
		WithArgs("forge-agent", "worker-1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := s.ClaimNext(context.Background(), "forge-agent", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "t-1", got.ID)
	require.Equal(t, ticket.StateInProgress, got.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_NoOpWhenRowAlreadyMoved(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tickets SET state = $1")).
		WithArgs(string(ticket.StateInProgress), "t-1", string(ticket.StateReady)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Transition(context.Background(), "t-1", ticket.StateReady, ticket.StateInProgress, ticket.TriggerClaim, "")
	require.NoError(t, err)
	require.False(t, ok, "zero rows affected must be a silent no-op, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_RejectsIllegalPairBeforeTouchingTheStore(t *testing.T) {
	s, mock := newMockStore(t)
	ok, err := s.Transition(context.Background(), "t-1", ticket.StateDone, ticket.StateMerged, ticket.TriggerDeploy, "")
	require.Error(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet(), "no SQL should run for a pair not in the legal transition table")
}
