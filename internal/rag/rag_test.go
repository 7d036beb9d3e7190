package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/engine/internal/ticket"
)

type fakeStore struct {
	results  []SearchResult
	err      error
	query    string
	domain   string
	limit    int
	searched bool
}

func (s *fakeStore) IndexChunk(_ context.Context, _ Chunk) error { return nil }

func (s *fakeStore) Search(_ context.Context, query, domain string, limit int) ([]SearchResult, error) {
	s.searched = true
	s.query = query
	s.domain = domain
	s.limit = limit
	return s.results, s.err
}

func TestRetrieveForTicket_EmptyQueryShortCircuits(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(store, 5)

	snippets, err := r.RetrieveForTicket(context.Background(), ticket.Ticket{})
	require.NoError(t, err)
	assert.Nil(t, snippets)
	assert.False(t, store.searched)
}

func TestRetrieveForTicket_BuildsQueryFromTitleDescriptionAndHintFiles(t *testing.T) {
	store := &fakeStore{results: []SearchResult{
		{Chunk: Chunk{Source: "internal/executor/executor.go", Content: "package executor"}, Rank: 0.9},
	}}
	r := NewRetriever(store, 3)

	tk := ticket.Ticket{
		Title:       "Add RAG context",
		Description: "Wire retrieval into the generator request",
		HintFiles:   []string{"internal/executor/executor.go"},
	}

	snippets, err := r.RetrieveForTicket(context.Background(), tk)
	require.NoError(t, err)
	require.True(t, store.searched)
	assert.Contains(t, store.query, "Add RAG context")
	assert.Contains(t, store.query, "internal/executor/executor.go")
	assert.Equal(t, 3, store.limit)

	require.Len(t, snippets, 1)
	assert.Equal(t, "internal/executor/executor.go", snippets[0].Path)
	assert.Equal(t, "package executor", snippets[0].Content)
}

func TestRetrieveForTicket_DerivesDomainFromRAGContextFiles(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(store, 5)

	tk := ticket.Ticket{
		Title: "Fix cascade",
		RAGContext: &ticket.RAGContext{
			FilesToModify: []string{"internal/cascade/cascade.go", "internal/cascade/cascade_test.go"},
		},
	}

	_, err := r.RetrieveForTicket(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "internal/cascade", store.domain)
}

func TestRetrieveForTicket_NoCommonDirYieldsEmptyDomain(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(store, 5)

	tk := ticket.Ticket{
		Title: "Cross-cutting change",
		RAGContext: &ticket.RAGContext{
			FilesToModify: []string{"internal/cascade/cascade.go", "internal/executor/executor.go"},
		},
	}

	_, err := r.RetrieveForTicket(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "", store.domain)
}

func TestRetrieveForTicket_SearchErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("search backend down")}
	r := NewRetriever(store, 5)

	_, err := r.RetrieveForTicket(context.Background(), ticket.Ticket{Title: "Anything"})
	assert.Error(t, err)
}

func TestNewRetriever_DefaultsMaxChunks(t *testing.T) {
	r := NewRetriever(&fakeStore{}, 0)
	assert.Equal(t, 5, r.maxChunks)
}

func TestCommonDir(t *testing.T) {
	cases := []struct {
		name  string
		files []string
		want  string
	}{
		{"empty", nil, ""},
		{"single file", []string{"internal/cascade/cascade.go"}, "internal/cascade"},
		{"shared dir", []string{"internal/cascade/cascade.go", "internal/cascade/cascade_test.go"}, "internal/cascade"},
		{"shared prefix only", []string{"internal/cascade/cascade.go", "internal/cascade/sub/x.go"}, "internal/cascade"},
		{"no common dir", []string{"internal/cascade/cascade.go", "internal/executor/executor.go"}, ""},
		{"root files", []string{"main.go", "README.md"}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, commonDir(c.files))
		})
	}
}
