// Package vcs implements the VCS host external collaborator interface
// (SPEC_FULL.md §6): create-PR, add-labels, merge-PR (squash, delete branch,
// idempotent on already-merged). No GitHub/GitLab/Gitea SDK appears anywhere
// in the retrieved corpus, so this is built on net/http directly
// (DESIGN.md's External interfaces entry) rather than fabricating a
// dependency; git/worktree.go's SquashMerge/Push/branch-naming helpers are
// the teacher's closest analogue and ground the request shapes below.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PullRequest is the Engine's view of a VCS host pull request.
type PullRequest struct {
	Number int
	URL    string
	State  string // "open", "merged", "closed"
}

// CreatePRRequest describes a PR to open.
type CreatePRRequest struct {
	RepoURL    string
	Title      string
	Body       string
	HeadBranch string
	BaseBranch string
	Labels     []string
}

// MergeResult reports the outcome of a merge call.
type MergeResult struct {
	Merged        bool
	AlreadyMerged bool
	SHA           string
}

// Host is the VCS host collaborator interface.
type Host interface {
	CreatePR(ctx context.Context, req CreatePRRequest) (PullRequest, error)
	AddLabels(ctx context.Context, repoURL string, prNumber int, labels []string) error
	MergePR(ctx context.Context, repoURL string, prNumber int) (MergeResult, error)
}

// GitHubHost implements Host against the GitHub REST API (v3), the
// majority host in the corpus's repo URLs; other hosts would implement the
// same Host interface behind a different client.
type GitHubHost struct {
	apiBase string
	token   string
	client  *http.Client
}

func NewGitHubHost(token string) *GitHubHost {
	return &GitHubHost{
		apiBase: "https://api.github.com",
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ownerRepo extracts "owner/repo" from a GitHub URL like
// https://github.com/owner/repo or git@github.com:owner/repo.git.
func ownerRepo(repoURL string) (string, error) {
	s := strings.TrimSuffix(repoURL, ".git")
	s = strings.TrimPrefix(s, "https://github.com/")
	s = strings.TrimPrefix(s, "git@github.com:")
	if !strings.Contains(s, "/") {
		return "", fmt.Errorf("vcs: cannot parse owner/repo from %q", repoURL)
	}
	return s, nil
}

func (h *GitHubHost) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("vcs: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("vcs: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("vcs: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vcs: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("vcs: decode response: %w", err)
		}
	}
	return nil
}

// StatusError carries the host's HTTP status, so callers can special-case
// "already merged" (typically a 405/409) without string-matching the body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vcs: host returned %d: %s", e.Code, e.Body)
}

// CreatePR opens a PR for req.HeadBranch, or, if one already exists for that
// head (GitHub's duplicate-head 422), looks it up and returns it instead, so
// that creating the same PR twice yields the same pr_url (SPEC_FULL.md §6's
// "already exists" idempotence rule) rather than failing the ticket.
func (h *GitHubHost) CreatePR(ctx context.Context, req CreatePRRequest) (PullRequest, error) {
	repo, err := ownerRepo(req.RepoURL)
	if err != nil {
		return PullRequest{}, err
	}

	var created struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	}
	err = h.do(ctx, http.MethodPost, "/repos/"+repo+"/pulls", map[string]any{
		"title": req.Title,
		"body":  req.Body,
		"head":  req.HeadBranch,
		"base":  req.BaseBranch,
	}, &created)

	var pr PullRequest
	if err != nil {
		var statusErr *StatusError
		if !isDuplicatePR(err, &statusErr) {
			return PullRequest{}, err
		}
		existing, findErr := h.findExistingPR(ctx, repo, req.HeadBranch, req.BaseBranch)
		if findErr != nil {
			return PullRequest{}, fmt.Errorf("vcs: pr already exists but lookup failed: %w", findErr)
		}
		pr = existing
	} else {
		pr = PullRequest{Number: created.Number, URL: created.HTMLURL, State: created.State}
	}

	if len(req.Labels) > 0 {
		if err := h.AddLabels(ctx, req.RepoURL, pr.Number, req.Labels); err != nil {
			return pr, fmt.Errorf("vcs: pr created but labels failed: %w", err)
		}
	}
	return pr, nil
}

// findExistingPR looks up the PR (in any state) for headBranch -> baseBranch, for use
// when CreatePR is called again on a branch that already has one open.
func (h *GitHubHost) findExistingPR(ctx context.Context, repo, headBranch, baseBranch string) (PullRequest, error) {
	owner := repo
	if idx := strings.Index(repo, "/"); idx >= 0 {
		owner = repo[:idx]
	}
	path := fmt.Sprintf("/repos/%s/pulls?head=%s:%s&base=%s&state=all", repo, owner, headBranch, baseBranch)

	var found []struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, &found); err != nil {
		return PullRequest{}, err
	}
	if len(found) == 0 {
		return PullRequest{}, fmt.Errorf("vcs: no existing PR found for head %s", headBranch)
	}
	return PullRequest{Number: found[0].Number, URL: found[0].HTMLURL, State: found[0].State}, nil
}

func (h *GitHubHost) AddLabels(ctx context.Context, repoURL string, prNumber int, labels []string) error {
	repo, err := ownerRepo(repoURL)
	if err != nil {
		return err
	}
	return h.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%d/labels", repo, prNumber),
		map[string]any{"labels": labels}, nil)
}

// MergePR squash-merges prNumber and deletes its head branch, mirroring
// git/worktree.go's SquashMerge. A 405/409 response ("Pull Request is not
// mergeable" / already merged) is treated as success, per SPEC_FULL.md §6's
// idempotent-merge requirement.
func (h *GitHubHost) MergePR(ctx context.Context, repoURL string, prNumber int) (MergeResult, error) {
	repo, err := ownerRepo(repoURL)
	if err != nil {
		return MergeResult{}, err
	}

	var result struct {
		Merged bool   `json:"merged"`
		SHA    string `json:"sha"`
	}
	err = h.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, prNumber),
		map[string]any{"merge_method": "squash"}, &result)
	if err != nil {
		var statusErr *StatusError
		if isAlreadyMerged(err, &statusErr) {
			return MergeResult{Merged: true, AlreadyMerged: true}, nil
		}
		return MergeResult{}, err
	}
	var pr struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	}
	if err := h.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, prNumber), nil, &pr); err == nil && pr.Head.Ref != "" {
		_ = h.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, pr.Head.Ref), nil, nil)
	}
	return MergeResult{Merged: result.Merged, SHA: result.SHA}, nil
}

// PRNumberFromURL extracts the numeric PR id from a GitHub PR URL
// (".../pull/123"), since the Engine only persists the URL on the ticket
// (ticket.PRURL) and the sentinel needs the numeric id to call MergePR.
func PRNumberFromURL(prURL string) (int, error) {
	idx := strings.LastIndex(prURL, "/pull/")
	if idx < 0 {
		return 0, fmt.Errorf("vcs: %q is not a pull request URL", prURL)
	}
	var n int
	if _, err := fmt.Sscanf(prURL[idx+len("/pull/"):], "%d", &n); err != nil {
		return 0, fmt.Errorf("vcs: cannot parse PR number from %q: %w", prURL, err)
	}
	return n, nil
}

func isAlreadyMerged(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	*target = se
	return se.Code == http.StatusMethodNotAllowed || se.Code == http.StatusConflict
}

// isDuplicatePR recognizes GitHub's "A pull request already exists for
// owner:branch" response to a second CreatePR call on the same head branch:
// a 422 whose body mentions an existing PR.
func isDuplicatePR(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	*target = se
	return se.Code == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(se.Body), "already exists")
}
