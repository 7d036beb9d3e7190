package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGenerator calls an out-of-process Spec→Tickets/patch generation
// service over HTTP. Producing the generator itself is explicitly out of
// scope for the Engine (SPEC_FULL.md Non-goals); this is only the client
// seam, built on net/http directly because no generation-service SDK
// appears anywhere in the retrieved corpus (DESIGN.md's External interfaces
// entry).
type HTTPGenerator struct {
	BaseGenerator
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPGenerator constructs a generator client bound to endpoint.
func NewHTTPGenerator(name, endpoint, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (g *HTTPGenerator) Name() string    { return g.name }
func (g *HTTPGenerator) Available() bool { return g.apiKey != "" }

type wireRequest struct {
	TicketID           string       `json:"ticket_id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	AcceptanceCriteria []string     `json:"acceptance_criteria"`
	HintFiles          []string     `json:"hint_files,omitempty"`
	RAGSnippets        []RAGSnippet `json:"rag_snippets,omitempty"`
	FeedbackForAgent   []string     `json:"feedback_for_agent,omitempty"`
	Attempt            int          `json:"attempt"`
}

type wireResponse struct {
	Patches []Patch `json:"patches"`
	Summary string  `json:"summary"`
}

// Generate posts req to the generator endpoint and decodes its patch list.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if !g.Available() {
		return Response{}, ErrGeneratorNotAvailable(g.name)
	}

	body, err := json.Marshal(wireRequest{
		TicketID:           req.TicketID,
		Title:              req.Title,
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		HintFiles:          req.HintFiles,
		RAGSnippets:        req.RAGSnippets,
		FeedbackForAgent:   req.FeedbackForAgent,
		Attempt:            req.Attempt,
	})
	if err != nil {
		return Response{}, fmt.Errorf("generator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("generator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("generator: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("generator: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("generator: %s returned %d: %s", g.name, resp.StatusCode, string(raw))
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Response{}, fmt.Errorf("generator: decode response: %w", err)
	}

	g.trackUsage()
	return Response{Patches: wire.Patches, Summary: wire.Summary}, nil
}
