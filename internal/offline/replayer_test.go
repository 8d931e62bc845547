package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, pending PendingSubmission) (SubmitResult, error) {
	args := m.Called(ctx, pending.TempID)
	return args.Get(0).(SubmitResult), args.Error(1)
}

type recordingServer struct {
	mu       sync.Mutex
	keys     []string
	failures map[string]bool
	auth     []string
}

func (s *recordingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/applications", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		key, _ := body["client_submission_id"].(string)
		address, _ := body["customer_address"].(string)

		s.mu.Lock()
		s.keys = append(s.keys, key)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		fail := s.failures[address]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing_product_id","code":"applications.create.missing_product_id"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":41,"duplicate":false}`))
	}
}

func TestReplaySubmitsAndKeepsFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, address := range []string{"1 Oak Ct", "2 Oak Ct", "3 Oak Ct"} {
		_, err := store.Enqueue(ctx, json.RawMessage(`{"customer_address":"`+address+`"}`))
		require.NoError(t, err)
	}
	server := &recordingServer{failures: map[string]bool{"2 Oak Ct": true}}
	httpServer := httptest.NewServer(server.handler(t))
	defer httpServer.Close()

	submitter, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: httpServer.URL + "/", SessionToken: "session-token"})
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	replayer, err := NewReplayer(store, submitter, zap.New(core))
	require.NoError(t, err)

	result, err := replayer.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, ReplayResult{Synced: 2, Failed: 1, Remaining: 1}, result)

	pending, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.JSONEq(t, `{"customer_address":"2 Oak Ct"}`, pending[0].Payload)
	require.Equal(t, 1, pending[0].Attempts)
	require.Contains(t, pending[0].LastError, "missing_product_id")
	require.Equal(t, pending[0].TempID, server.keys[1])
	for _, header := range server.auth {
		require.Equal(t, "Bearer session-token", header)
	}
	require.Equal(t, 1, logs.FilterMessage("offline replay entry failed").Len())
}

func TestReplayResubmitsWithSameKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry, err := store.Enqueue(ctx, json.RawMessage(`{"customer_address":"9 Elm St"}`))
	require.NoError(t, err)

	submitter := &mockSubmitter{}
	submitter.On("Submit", mock.Anything, entry.TempID).Return(SubmitResult{}, context.DeadlineExceeded).Once()
	submitter.On("Submit", mock.Anything, entry.TempID).Return(SubmitResult{ID: 7, Duplicate: true}, nil).Once()
	replayer, err := NewReplayer(store, submitter, nil)
	require.NoError(t, err)

	first, err := replayer.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, ReplayResult{Failed: 1, Remaining: 1}, first)

	second, err := replayer.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, ReplayResult{Synced: 1}, second)
	submitter.AssertExpectations(t)
}

func TestConcurrentReplaysSubmitEachEntryOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.Enqueue(ctx, json.RawMessage(`{"customer_address":"`+strings.Repeat("x", i+1)+`"}`))
		require.NoError(t, err)
	}
	server := &recordingServer{failures: map[string]bool{}}
	httpServer := httptest.NewServer(server.handler(t))
	defer httpServer.Close()
	submitter, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: httpServer.URL})
	require.NoError(t, err)
	replayer, err := NewReplayer(store, submitter, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	totals := make(chan int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := replayer.Replay(ctx)
			if err == nil {
				totals <- result.Synced
			}
		}()
	}
	wg.Wait()
	close(totals)

	synced := 0
	for value := range totals {
		synced += value
	}
	require.Equal(t, 5, synced)
	require.Len(t, server.keys, 5)
	seen := map[string]bool{}
	for _, key := range server.keys {
		require.False(t, seen[key], "key %s submitted twice", key)
		seen[key] = true
	}
}

func TestHTTPSubmitterRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSubmitter(HTTPSubmitterConfig{BaseURL: "  "})
	require.Error(t, err)
}
