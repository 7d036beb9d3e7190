package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPVerifier calls an out-of-process Verifier service over HTTP. Producing
// the verifier itself is out of scope for the Engine (SPEC_FULL.md
// Non-goals); this is only the client seam, built on net/http directly for
// the same reason as generator.HTTPGenerator — no verification-service SDK
// appears anywhere in the retrieved corpus.
type HTTPVerifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPVerifier(endpoint, apiKey string) *HTTPVerifier {
	return &HTTPVerifier{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 5 * time.Minute}}
}

type wireRequest struct {
	TicketID           string   `json:"ticket_id"`
	BranchName         string   `json:"branch_name"`
	RepoURL            string   `json:"repo_url"`
	Attempt            int      `json:"attempt"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Phases             []Phase  `json:"phases"`
}

type wireResponse struct {
	Status           Status   `json:"status"`
	ReadyForPR       bool     `json:"ready_for_pr"`
	FeedbackForAgent []string `json:"feedback_for_agent"`
	Evidence         any      `json:"evidence"`
}

var _ Verifier = (*HTTPVerifier)(nil)

// Verify posts req to the verifier endpoint and decodes its verdict. Run
// classifies any error this returns via Classify, so transport failures
// (timeouts, 5xx, connection resets) are left as plain wrapped errors rather
// than being resolved to a Response here.
func (v *HTTPVerifier) Verify(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(wireRequest{
		TicketID:           req.TicketID,
		BranchName:         req.BranchName,
		RepoURL:            req.RepoURL,
		Attempt:            req.Attempt,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Phases:             req.Phases,
	})
	if err != nil {
		return Response{}, fmt.Errorf("verify: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("verify: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("verify: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("verify: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("verify: service returned %d: %s", resp.StatusCode, string(raw))
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Response{}, fmt.Errorf("verify: decode response: %w", err)
	}
	return Response{Status: wire.Status, ReadyForPR: wire.ReadyForPR, FeedbackForAgent: wire.FeedbackForAgent, Evidence: wire.Evidence}, nil
}
