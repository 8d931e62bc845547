package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyServer struct {
	mu       sync.Mutex
	statuses []int
	keys     []string
}

func (s *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	key, _ := body["client_submission_id"].(string)

	s.mu.Lock()
	s.keys = append(s.keys, key)
	status := http.StatusCreated
	if len(s.statuses) > 0 {
		status = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= http.StatusBadRequest {
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":7}`))
}

func (s *flakyServer) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func pendingFixture() PendingSubmission {
	return PendingSubmission{TempID: "0190f3a2-7c1e-7b44-9a55-3f1f2d6c8e01", Payload: `{"address":"12 Elm St"}`, SavedAt: time.Unix(1700000000, 0)}
}

func TestSubmitRetriesServerErrorsWithSameKey(t *testing.T) {
	server := &flakyServer{statuses: []int{http.StatusServiceUnavailable}}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	submitter, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: httpServer.URL, RetryCount: 2})
	require.NoError(t, err)

	result, err := submitter.Submit(context.Background(), pendingFixture())
	require.NoError(t, err)
	require.Equal(t, SubmitResult{ID: 7}, result)
	calls := server.calls()
	require.Len(t, calls, 2)
	require.Equal(t, calls[0], calls[1])
	require.Equal(t, pendingFixture().TempID, calls[0])
}

func TestSubmitDoesNotRetryRejections(t *testing.T) {
	server := &flakyServer{statuses: []int{http.StatusBadRequest}}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	submitter, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: httpServer.URL, RetryCount: 2})
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), pendingFixture())
	require.ErrorContains(t, err, "status 400")
	require.Len(t, server.calls(), 1)
}

func TestSubmitWithoutRetriesFailsOnFirstServerError(t *testing.T) {
	server := &flakyServer{statuses: []int{http.StatusServiceUnavailable}}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	submitter, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: httpServer.URL})
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), pendingFixture())
	require.ErrorContains(t, err, "status 503")
	require.Len(t, server.calls(), 1)
}
