package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/generator"
	"github.com/forgelabs/engine/internal/verify"
)

type fakeStore struct {
	entries []Entry
	failOn  string
}

func (s *fakeStore) RecordAudit(ctx context.Context, e Entry) error {
	if s.failOn != "" && e.Action == s.failOn {
		return errors.New("boom")
	}
	s.entries = append(s.entries, e)
	return nil
}

type fakeGenerator struct {
	resp generator.Response
	err  error
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) (generator.Response, error) {
	return g.resp, g.err
}
func (g *fakeGenerator) Name() string             { return "fake" }
func (g *fakeGenerator) Available() bool          { return true }
func (g *fakeGenerator) GetUsage() generator.Usage { return generator.Usage{} }

func TestAuditingGenerator_RecordsPromptAndResponse(t *testing.T) {
	store := &fakeStore{}
	g := NewAuditingGenerator(&fakeGenerator{resp: generator.Response{Summary: "done", Patches: []generator.Patch{{Path: "a.go"}}}}, store, zap.NewNop())

	resp, err := g.Generate(context.Background(), generator.Request{TicketID: "t-1", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Summary)

	require.Len(t, store.entries, 2)
	assert.Equal(t, "prompt_sent", store.entries[0].Action)
	assert.Equal(t, "response_received", store.entries[1].Action)
	assert.Equal(t, "t-1", store.entries[0].TicketID)
	assert.Equal(t, "generator", store.entries[0].Actor)
}

func TestAuditingGenerator_RecordsErrorAndStillReturnsIt(t *testing.T) {
	store := &fakeStore{}
	wantErr := errors.New("upstream down")
	g := NewAuditingGenerator(&fakeGenerator{err: wantErr}, store, zap.NewNop())

	_, err := g.Generate(context.Background(), generator.Request{TicketID: "t-1"})
	assert.Equal(t, wantErr, err)

	require.Len(t, store.entries, 2)
	assert.Equal(t, "error", store.entries[1].Action)
}

func TestAuditingGenerator_StoreFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{failOn: "prompt_sent"}
	g := NewAuditingGenerator(&fakeGenerator{resp: generator.Response{Summary: "ok"}}, store, zap.NewNop())

	resp, err := g.Generate(context.Background(), generator.Request{TicketID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Summary)
}

type fakeVerifier struct {
	resp verify.Response
	err  error
}

func (v *fakeVerifier) Verify(ctx context.Context, req verify.Request) (verify.Response, error) {
	return v.resp, v.err
}

func TestAuditingVerifier_RecordsPromptAndResponse(t *testing.T) {
	store := &fakeStore{}
	v := NewAuditingVerifier(&fakeVerifier{resp: verify.Response{Status: verify.StatusPassed, ReadyForPR: true}}, store, zap.NewNop())

	resp, err := v.Verify(context.Background(), verify.Request{TicketID: "t-2", Phases: []verify.Phase{verify.PhaseStatic}})
	require.NoError(t, err)
	assert.True(t, resp.ReadyForPR)

	require.Len(t, store.entries, 2)
	assert.Equal(t, "verifier", store.entries[0].Actor)
	assert.Equal(t, "t-2", store.entries[1].TicketID)
}
