package vcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerRepo(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widget":     "acme/widget",
		"https://github.com/acme/widget.git": "acme/widget",
		"git@github.com:acme/widget.git":     "acme/widget",
	}
	for in, want := range cases {
		got, err := ownerRepo(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ownerRepo("not-a-url")
	require.Error(t, err)
}

func newTestHost(t *testing.T, handler http.HandlerFunc) (*GitHubHost, func()) {
	srv := httptest.NewServer(handler)
	h := NewGitHubHost("token")
	h.apiBase = srv.URL
	return h, srv.Close
}

func TestCreatePR_AddsLabelsAfterCreate(t *testing.T) {
	var labelsCalled bool
	h, closeFn := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widget/pulls":
			w.Write([]byte(`{"number": 42, "html_url": "https://github.com/acme/widget/pull/42", "state": "open"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widget/issues/42/labels":
			labelsCalled = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer closeFn()

	pr, err := h.CreatePR(context.Background(), CreatePRRequest{
		RepoURL: "https://github.com/acme/widget", Title: "t", HeadBranch: "b", BaseBranch: "main",
		Labels: []string{"automated"},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.True(t, labelsCalled)
}

func TestCreatePR_DuplicateHeadReturnsExistingPR(t *testing.T) {
	var lookupCalled bool
	h, closeFn := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widget/pulls":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message": "Validation Failed", "errors": [{"message": "A pull request already exists for acme:b."}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widget/pulls":
			lookupCalled = true
			assert.Equal(t, "acme:b", r.URL.Query().Get("head"))
			w.Write([]byte(`[{"number": 7, "html_url": "https://github.com/acme/widget/pull/7", "state": "open"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widget/issues/7/labels":
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer closeFn()

	pr, err := h.CreatePR(context.Background(), CreatePRRequest{
		RepoURL: "https://github.com/acme/widget", Title: "t", HeadBranch: "b", BaseBranch: "main",
		Labels: []string{"automated"},
	})
	require.NoError(t, err)
	assert.True(t, lookupCalled)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/acme/widget/pull/7", pr.URL)
}

func TestMergePR_AlreadyMergedIsSuccess(t *testing.T) {
	h, closeFn := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"message": "Pull Request is not mergeable"}`))
	})
	defer closeFn()

	res, err := h.MergePR(context.Background(), "https://github.com/acme/widget", 42)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMerged)
}

func TestMergePR_Success(t *testing.T) {
	h, closeFn := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"merged": true, "sha": "abc123"}`))
	})
	defer closeFn()

	res, err := h.MergePR(context.Background(), "https://github.com/acme/widget", 42)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, "abc123", res.SHA)
}

func TestPRNumberFromURL(t *testing.T) {
	n, err := PRNumberFromURL("https://github.com/acme/widget/pull/42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = PRNumberFromURL("https://github.com/acme/widget")
	require.Error(t, err)
}
