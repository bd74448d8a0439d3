package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/events"
	"github.com/mattjoyce/agentbridge/internal/journal"
)

const testKey = "test-key-123"

type fakeStats struct {
	stats coordinator.Stats
}

func (f fakeStats) Stats() coordinator.Stats { return f.stats }

// fakeStore implements RequestStore for testing
type fakeStore struct {
	entries map[string]journal.Entry
	listErr error
	lastF   journal.Filter
}

func (f *fakeStore) Get(_ context.Context, id string) (*journal.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, journal.ErrNotFound
	}
	return &e, nil
}

func (f *fakeStore) List(_ context.Context, filter journal.Filter) ([]journal.Entry, error) {
	f.lastF = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []journal.Entry
	for _, e := range f.entries {
		if filter.ConversationID != "" && e.ConversationID != filter.ConversationID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) Counts(context.Context) (map[journal.Status]int, error) {
	counts := map[journal.Status]int{}
	for _, e := range f.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func newTestServer(store RequestStore, hub *events.Hub) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stats := fakeStats{coordinator.Stats{InFlight: 2, Waiting: 3, Conversations: 4, MaxConcurrent: 4}}
	return New(Config{Listen: "127.0.0.1:0", APIKey: testKey}, stats, store, hub, logger)
}

func doRequest(t *testing.T, h http.Handler, path string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleStore() *fakeStore {
	code := 1
	reason := "boom"
	stderr := "traceback"
	d := 1200 * time.Millisecond
	return &fakeStore{entries: map[string]journal.Entry{
		"r1": {ID: "r1", ConversationID: "111", Status: journal.StatusSucceeded, TextLength: 5, SubmittedAt: time.Unix(100, 0).UTC(), Duration: &d},
		"r2": {ID: "r2", ConversationID: "222", Status: journal.StatusFailed, ExitCode: &code, Reason: &reason, Stderr: &stderr, SubmittedAt: time.Unix(200, 0).UTC()},
	}}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	s := newTestServer(nil, nil)
	rec := doRequest(t, s.Handler(), "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.InFlight)
	assert.Equal(t, 3, resp.Waiting)
	assert.Equal(t, 4, resp.Conversations)
	assert.False(t, resp.JournalEnabled)
	assert.Nil(t, resp.Requests)
}

func TestHealthzIncludesJournalCounts(t *testing.T) {
	s := newTestServer(sampleStore(), nil)
	rec := doRequest(t, s.Handler(), "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.JournalEnabled)
	assert.Equal(t, map[string]int{"succeeded": 1, "failed": 1}, resp.Requests)
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	s := newTestServer(sampleStore(), nil)
	for _, path := range []string{"/requests", "/requests/r1", "/events"} {
		rec := doRequest(t, s.Handler(), path, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")
	assert.Equal(t, `Bearer realm="agentbridge"`, rec.Header().Get("WWW-Authenticate"))
}

func TestListRequests(t *testing.T) {
	store := sampleStore()
	s := newTestServer(store, nil)

	rec := doRequest(t, s.Handler(), "/requests?conversation=111&limit=5", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RequestListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, "r1", resp.Requests[0].ID)
	require.NotNil(t, resp.Requests[0].DurationMS)
	assert.Equal(t, int64(1200), *resp.Requests[0].DurationMS)
	assert.Equal(t, "111", store.lastF.ConversationID)
	assert.Equal(t, 5, store.lastF.Limit)
}

func TestListRequestsOmitsStderr(t *testing.T) {
	s := newTestServer(sampleStore(), nil)
	rec := doRequest(t, s.Handler(), "/requests?conversation=222", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "traceback")
}

func TestListRequestsBadLimit(t *testing.T) {
	s := newTestServer(sampleStore(), nil)
	rec := doRequest(t, s.Handler(), "/requests?limit=abc", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRequestsStoreError(t *testing.T) {
	store := sampleStore()
	store.listErr = errors.New("disk I/O error")
	s := newTestServer(store, nil)
	rec := doRequest(t, s.Handler(), "/requests", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk I/O")
}

func TestGetRequest(t *testing.T) {
	s := newTestServer(sampleStore(), nil)

	rec := doRequest(t, s.Handler(), "/requests/r2", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view RequestView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "failed", view.Status)
	require.NotNil(t, view.ExitCode)
	assert.Equal(t, 1, *view.ExitCode)
	require.NotNil(t, view.Stderr)
	assert.Equal(t, "traceback", *view.Stderr)

	rec = doRequest(t, s.Handler(), "/requests/missing", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJournalDisabledReturns503(t *testing.T) {
	s := newTestServer(nil, nil)
	for _, path := range []string{"/requests", "/requests/r1"} {
		rec := doRequest(t, s.Handler(), path, true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeRequestSubmitted, events.RequestPayload{RequestID: "r1", ConversationID: "111"})
	hub.Publish(events.TypeRequestStarted, events.RequestPayload{RequestID: "r1", ConversationID: "111"})

	s := newTestServer(nil, hub)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	assert.Equal(t, "2", first["id"])
	assert.Equal(t, events.TypeRequestStarted, first["event"])

	hub.Publish(events.TypeReplySent, events.RequestPayload{RequestID: "r1", ConversationID: "111"})
	second := readSSE(t, reader)
	assert.Equal(t, "3", second["id"])
	assert.Equal(t, events.TypeReplySent, second["event"])
	assert.Contains(t, second["data"], `"request_id":"r1"`)
}

func TestEventsStreamFiltersByConversation(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeRequestSubmitted, events.RequestPayload{RequestID: "r1", ConversationID: "111"})
	hub.Publish(events.TypeRequestSubmitted, events.RequestPayload{RequestID: "r2", ConversationID: "222"})
	hub.Publish(events.TypeJournalPruned, events.PrunePayload{Deleted: 3})

	s := newTestServer(nil, hub)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?conversation=222", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	assert.Equal(t, "2", first["id"])
	assert.Contains(t, first["data"], `"request_id":"r2"`)

	hub.Publish(events.TypeReplySent, events.RequestPayload{RequestID: "r1", ConversationID: "111"})
	hub.Publish(events.TypeReplySent, events.RequestPayload{RequestID: "r2", ConversationID: "222"})
	second := readSSE(t, reader)
	assert.Equal(t, "5", second["id"])
	assert.Equal(t, events.TypeReplySent, second["event"])
}

// readSSE reads one event frame into a field map.
func readSSE(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	fields := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(fields) > 0 {
				return fields
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		key, value, _ := strings.Cut(line, ": ")
		fields[key] = value
	}
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}

func TestStartShutsDownOnCancel(t *testing.T) {
	s := newTestServer(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
