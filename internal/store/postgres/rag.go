package postgres

import (
	"context"
	"fmt"

	"github.com/forgelabs/engine/internal/rag"
)

// RAGStore implements rag.Store against the rag_chunks table (see
// migrations/00002_rag.sql), using Postgres's built-in to_tsvector/
// plainto_tsquery full-text search rather than a vector extension — see
// internal/rag's package doc for why.
type RAGStore struct {
	db *Store
}

func NewRAGStore(db *Store) *RAGStore {
	return &RAGStore{db: db}
}

var _ rag.Store = (*RAGStore)(nil)

func (s *RAGStore) IndexChunk(ctx context.Context, c rag.Chunk) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO rag_chunks (id, source, content, domain, chunk_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, domain = EXCLUDED.domain, chunk_type = EXCLUDED.chunk_type`,
		c.ID, c.Source, c.Content, c.Domain, c.ChunkType)
	if err != nil {
		return fmt.Errorf("postgres: index rag chunk: %w", err)
	}
	return nil
}

func (s *RAGStore) Search(ctx context.Context, query, domain string, limit int) ([]rag.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.rawSearch(ctx, query, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search rag chunks: %w", err)
	}
	return rows, nil
}

func (s *RAGStore) rawSearch(ctx context.Context, query, domain string, limit int) ([]rag.SearchResult, error) {
	type row struct {
		ID        string  `db:"id"`
		Source    string  `db:"source"`
		Content   string  `db:"content"`
		Domain    string  `db:"domain"`
		ChunkType string  `db:"chunk_type"`
		Rank      float64 `db:"rank"`
	}

	var rows []row
	if domain != "" {
		err := s.db.db.SelectContext(ctx, &rows, `
			SELECT id, source, content, domain, chunk_type,
			       ts_rank(tsv, plainto_tsquery('english', $1)) AS rank
			FROM rag_chunks
			WHERE tsv @@ plainto_tsquery('english', $1) AND domain = $2
			ORDER BY rank DESC
			LIMIT $3`, query, domain, limit)
		if err != nil {
			return nil, err
		}
	} else {
		err := s.db.db.SelectContext(ctx, &rows, `
			SELECT id, source, content, domain, chunk_type,
			       ts_rank(tsv, plainto_tsquery('english', $1)) AS rank
			FROM rag_chunks
			WHERE tsv @@ plainto_tsquery('english', $1)
			ORDER BY rank DESC
			LIMIT $2`, query, limit)
		if err != nil {
			return nil, err
		}
	}

	results := make([]rag.SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, rag.SearchResult{
			Chunk: rag.Chunk{ID: r.ID, Source: r.Source, Content: r.Content, Domain: r.Domain, ChunkType: r.ChunkType},
			Rank:  r.Rank,
		})
	}
	return results, nil
}
