package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGenerator_UnavailableWithoutAPIKey(t *testing.T) {
	g := NewHTTPGenerator("test", "http://localhost", "")
	assert.False(t, g.Available())
	_, err := g.Generate(context.Background(), Request{})
	require.Error(t, err)
}

func TestHTTPGenerator_GeneratePostsRequestAndDecodesPatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "t-1", got.TicketID)
		assert.Equal(t, 2, got.Attempt)

		_ = json.NewEncoder(w).Encode(wireResponse{
			Patches: []Patch{{Path: "main.go", Op: OpModify, Search: "old", Replace: "new"}},
			Summary: "fix the thing",
		})
	}))
	defer srv.Close()

	g := NewHTTPGenerator("test", srv.URL, "key")
	resp, err := g.Generate(context.Background(), Request{TicketID: "t-1", Attempt: 2})
	require.NoError(t, err)
	require.Len(t, resp.Patches, 1)
	assert.Equal(t, "main.go", resp.Patches[0].Path)
	assert.Equal(t, "fix the thing", resp.Summary)
	assert.EqualValues(t, 1, g.GetUsage().Requests)
}

func TestHTTPGenerator_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	g := NewHTTPGenerator("test", srv.URL, "key")
	_, err := g.Generate(context.Background(), Request{})
	require.Error(t, err)
}
