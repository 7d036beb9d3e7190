package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier_PostsRequestAndDecodesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "t-1", got.TicketID)
		assert.Equal(t, []Phase{PhaseStatic, PhaseAutomated}, got.Phases)

		_ = json.NewEncoder(w).Encode(wireResponse{Status: StatusPassed, ReadyForPR: true})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "key")
	resp, err := v.Verify(context.Background(), Request{TicketID: "t-1", Phases: []Phase{PhaseStatic, PhaseAutomated}})
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, resp.Status)
	assert.True(t, resp.ReadyForPR)
}

func TestHTTPVerifier_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "key")
	_, err := v.Verify(context.Background(), Request{TicketID: "t-1"})
	require.Error(t, err)
	assert.True(t, Classify(err), "a 502 should classify as retryable")
}
