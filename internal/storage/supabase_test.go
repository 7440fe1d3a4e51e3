package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
	Header http.Header
}

// fakePostgREST answers each request with the next canned response.
type fakePostgREST struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.requests = append(f.requests, rec)

	resp := fakeResponse{status: http.StatusOK, body: "[]"}
	if len(f.responses) > 0 {
		resp, f.responses = f.responses[0], f.responses[1:]
	}
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func newTestSupabase(t *testing.T, responses ...fakeResponse) (*SupabaseStore, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewSupabaseStore(SupabaseConfig{URL: srv.URL + "/", ServiceKey: "service-key"})
	require.NoError(t, err)
	return store, fake
}

func TestNewSupabaseStore_ValidatesURL(t *testing.T) {
	_, err := NewSupabaseStore(SupabaseConfig{})
	require.Error(t, err)

	_, err = NewSupabaseStore(SupabaseConfig{URL: "not a url"})
	require.Error(t, err)

	_, err = NewSupabaseStore(SupabaseConfig{URL: "https://user:pw@example.supabase.co"})
	require.Error(t, err)
}

func TestSupabase_ListWeeklyLogs(t *testing.T) {
	store, fake := newTestSupabase(t, fakeResponse{
		status: http.StatusOK,
		body:   `[{"id":"a","week_ending":"2024-03-10","dau":150,"metadata":{},"version":1,"created_at":"2024-03-10T12:00:00Z"}]`,
	})

	logs, err := store.ListWeeklyLogs(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "2024-03-10", logs[0].WeekEnding.String())
	assert.Equal(t, 150, logs[0].DAU)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/weekly_logs", req.Path)
	assert.Contains(t, req.Query, "order=week_ending.desc%2Cid.desc")
	assert.Equal(t, "service-key", req.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", req.Header.Get("Authorization"))
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))
}

func TestSupabase_GetNotFound(t *testing.T) {
	store, _ := newTestSupabase(t, fakeResponse{status: http.StatusOK, body: "[]"})
	_, err := store.GetCohortRetention(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabase_InsertStripsServerColumns(t *testing.T) {
	store, fake := newTestSupabase(t, fakeResponse{
		status: http.StatusCreated,
		body:   `[{"id":"srv-1","week_ending":"2024-03-10","feature_name":"Journal","users_count":40,"created_at":"2024-03-10T12:00:00Z"}]`,
	})

	row := &FeatureAdoption{ID: "client-made", WeekEnding: MustParseDate("2024-03-10"), FeatureName: "Journal", UsersCount: 40}
	require.NoError(t, store.InsertFeatureAdoption(context.Background(), row))
	assert.Equal(t, "srv-1", row.ID)

	body := fake.requests[0].Body
	assert.NotContains(t, body, "id")
	assert.NotContains(t, body, "created_at")
	assert.NotContains(t, body, "supersedes_id", "nil columns fall back to defaults")
	assert.Equal(t, "Journal", body["feature_name"])
	assert.Equal(t, "2024-03-10", body["week_ending"])
}

func TestSupabase_InsertConflict(t *testing.T) {
	store, _ := newTestSupabase(t, fakeResponse{
		status: http.StatusConflict,
		body:   `{"code":"23505","message":"duplicate key value violates unique constraint"}`,
	})
	err := store.InsertWeeklyLog(context.Background(), &WeeklyLog{WeekEnding: MustParseDate("2024-03-10")})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSupabase_UpdateWithExpectedVersion(t *testing.T) {
	store, fake := newTestSupabase(t, fakeResponse{status: http.StatusOK, body: `[{"version":4}]`})

	err := store.UpdateWeeklyLog(context.Background(), "a", Fields{"dau": "160"}, 3)
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Contains(t, req.Query, "id=eq.a")
	assert.Contains(t, req.Query, "version=eq.3")
	assert.Equal(t, float64(160), req.Body["dau"])
	assert.Equal(t, float64(4), req.Body["version"])
}

func TestSupabase_UpdateStale(t *testing.T) {
	store, _ := newTestSupabase(t,
		fakeResponse{status: http.StatusOK, body: `[]`},
		fakeResponse{status: http.StatusOK, body: `[{"version":5}]`},
	)
	err := store.UpdateWeeklyLog(context.Background(), "a", Fields{"dau": 1}, 3)
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestSupabase_UpdateLastWriteWinsReadsVersion(t *testing.T) {
	store, fake := newTestSupabase(t,
		fakeResponse{status: http.StatusOK, body: `[{"version":7}]`},
		fakeResponse{status: http.StatusOK, body: `[{"version":8}]`},
	)
	err := store.UpdateCohortRetention(context.Background(), "c", Fields{"day_90_retention": "null"}, 0)
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, http.MethodGet, fake.requests[0].Method)
	assert.Contains(t, fake.requests[1].Query, "version=eq.7")
	assert.Contains(t, fake.requests[1].Body, "day_90_retention")
	assert.Nil(t, fake.requests[1].Body["day_90_retention"])
	assert.Contains(t, fake.requests[1].Body, "updated_at")
}

func TestSupabase_UpdateNotFound(t *testing.T) {
	store, _ := newTestSupabase(t, fakeResponse{status: http.StatusOK, body: `[]`})
	err := store.UpdateWeeklyLog(context.Background(), "gone", Fields{"dau": 1}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabase_ErrorBodyIsBounded(t *testing.T) {
	store, _ := newTestSupabase(t, fakeResponse{
		status: http.StatusInternalServerError,
		body:   strings.Repeat("x", maxSupabaseErrorBodyBytes+10),
	})
	_, err := store.ListChangeLog(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.True(t, IsAPIError(err, http.StatusInternalServerError))
	assert.Contains(t, err.Error(), "(truncated)")
}
