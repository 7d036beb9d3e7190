// Package rag retrieves related-file context snippets for a ticket,
// feeding the generator.Request.RAGSnippets field C3 passes on each attempt
// (SPEC_FULL.md §12). It is grounded in the teacher's agents/rag/retriever.go
// and agents/rag/store.go, but trades their embedding/cosine-similarity path
// for Postgres's native full-text search: no embedding-model client appears
// anywhere in the retrieved corpus, so the teacher's keyword-search fallback
// path is promoted to the only path rather than inventing an embedding
// provider the corpus never touches.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgelabs/engine/internal/generator"
	"github.com/forgelabs/engine/internal/ticket"
)

// Chunk is one piece of indexed context: a file's content, or an expert note.
type Chunk struct {
	ID        string
	Source    string // file path, or "expert:<domain>"
	Content   string
	Domain    string
	ChunkType string // "code" or "pattern", mirroring the teacher's taxonomy
}

// SearchResult is one ranked hit against a full-text query.
type SearchResult struct {
	Chunk Chunk
	Rank  float64
}

// Store indexes and searches chunks. The Postgres implementation lives in
// internal/store/postgres; Retriever only depends on this interface so it
// can be tested against an in-memory fake.
type Store interface {
	IndexChunk(ctx context.Context, c Chunk) error
	Search(ctx context.Context, query string, domain string, limit int) ([]SearchResult, error)
}

// Retriever assembles generator.RAGSnippet context for a ticket, the
// adapted equivalent of the teacher's Retriever.RetrieveForTicket.
type Retriever struct {
	store     Store
	maxChunks int
}

func NewRetriever(store Store, maxChunks int) *Retriever {
	if maxChunks <= 0 {
		maxChunks = 5
	}
	return &Retriever{store: store, maxChunks: maxChunks}
}

// RetrieveForTicket searches for chunks relevant to t's title, description,
// and hint files, returning at most r.maxChunks snippets ordered by rank.
// A nil/empty result is not an error: RAG context is an enrichment, and its
// absence must never block C3's attempt loop.
func (r *Retriever) RetrieveForTicket(ctx context.Context, t ticket.Ticket) ([]generator.RAGSnippet, error) {
	query := buildQuery(t)
	if query == "" {
		return nil, nil
	}

	domain := ""
	if t.RAGContext != nil && len(t.RAGContext.FilesToModify) > 0 {
		domain = commonDir(t.RAGContext.FilesToModify)
	}

	results, err := r.store.Search(ctx, query, domain, r.maxChunks)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	snippets := make([]generator.RAGSnippet, 0, len(results))
	for _, res := range results {
		snippets = append(snippets, generator.RAGSnippet{Path: res.Chunk.Source, Content: res.Chunk.Content})
	}
	return snippets, nil
}

func buildQuery(t ticket.Ticket) string {
	var parts []string
	if t.Title != "" {
		parts = append(parts, t.Title)
	}
	if t.Description != "" {
		desc := t.Description
		if len(desc) > 500 {
			desc = desc[:500]
		}
		parts = append(parts, desc)
	}
	parts = append(parts, t.HintFiles...)
	return strings.Join(parts, " ")
}

// commonDir returns the shared leading directory segments of files, used as
// a coarse domain filter (e.g. "internal/executor" for a batch of files
// under it), or "" when the files share no common directory.
func commonDir(files []string) string {
	if len(files) == 0 {
		return ""
	}
	dirOf := func(f string) []string {
		parts := strings.Split(f, "/")
		if len(parts) > 0 {
			parts = parts[:len(parts)-1]
		}
		return parts
	}

	prefix := dirOf(files[0])
	for _, f := range files[1:] {
		parts := dirOf(f)
		n := len(prefix)
		if len(parts) < n {
			n = len(parts)
		}
		i := 0
		for i < n && prefix[i] == parts[i] {
			i++
		}
		prefix = prefix[:i]
	}
	return strings.Join(prefix, "/")
}
