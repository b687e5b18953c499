package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/bimsync/internal/api"
	"github.com/stacklok/bimsync/internal/sources"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
	"github.com/stacklok/bimsync/internal/translation"
)

type staticSessions []pkgsync.SessionSnapshot

func (s staticSessions) Sessions() []pkgsync.SessionSnapshot { return s }

type readiness bool

func (r readiness) Ready() bool { return bool(r) }

func testSessions(t *testing.T) staticSessions {
	t.Helper()
	src, err := sources.NewExternalSource(sources.KindCollab, "https://collab.example.com", "collab-main")
	require.NoError(t, err)
	started := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return staticSessions{
		{
			ID: "s-1", Source: src, ItemID: "stream-1", StartedAt: started, Subscribed: true, Passes: 1,
			Latest: &pkgsync.Outcome{SessionID: "s-1", ItemID: "stream-1", URN: "c1", State: translation.StateSucceeded},
		},
		{ID: "s-2", Source: src, ItemID: "stream-2", StartedAt: started},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(staticSessions{}), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []api.ServerOption
		wantStatus int
		wantBody   string
	}{
		{name: "ready without checker", wantStatus: http.StatusOK, wantBody: `{"status":"ready"}`},
		{
			name:       "ready",
			opts:       []api.ServerOption{api.WithReadinessChecker(readiness(true))},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "watches starting",
			opts:       []api.ServerOption{api.WithReadinessChecker(readiness(false))},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"watches are still starting"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := get(t, api.NewServer(staticSessions{}, tt.opts...), "/readyz")
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(staticSessions{}), "/version")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["go_version"])
}

func TestSessionsEndpoints(t *testing.T) {
	t.Parallel()

	server := api.NewServer(testSessions(t))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "list all",
			path:       "/v1/sessions",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				t.Helper()
				var resp api.SessionsResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 2, resp.Count)
			},
		},
		{
			name:       "filter by item",
			path:       "/v1/sessions/?itemId=stream-2",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				t.Helper()
				var resp struct {
					Sessions []map[string]any `json:"sessions"`
					Count    int              `json:"count"`
				}
				require.NoError(t, json.Unmarshal(body, &resp))
				require.Equal(t, 1, resp.Count)
				assert.Equal(t, "s-2", resp.Sessions[0]["id"])
			},
		},
		{
			name:       "one session",
			path:       "/v1/sessions/s-1",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				t.Helper()
				var resp map[string]any
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, "stream-1", resp["itemId"])
				assert.Equal(t, true, resp["subscribed"])
				assert.Equal(t, map[string]any{
					"kind": "collab", "baseUrl": "https://collab.example.com", "credentialRef": "collab-main",
				}, resp["source"])
				latest, ok := resp["latest"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "Succeeded", latest["state"])
			},
		},
		{
			name:       "unknown session",
			path:       "/v1/sessions/nope",
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body []byte) {
				t.Helper()
				assert.JSONEq(t, `{"error":"session nope not found"}`, string(body))
			},
		},
		{
			name:       "whitespace id",
			path:       "/v1/sessions/a%20b",
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body []byte) {
				t.Helper()
				assert.Contains(t, string(body), "id cannot contain whitespace")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := get(t, server, tt.path)
			assert.Equal(t, tt.wantStatus, rr.Code)
			tt.check(t, rr.Body.Bytes())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(staticSessions{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code, "no handler means no route")

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("bimsync_active_subscriptions 1\n"))
	})
	rr = get(t, api.NewServer(staticSessions{}, api.WithMetricsHandler(metrics)), "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bimsync_active_subscriptions")
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	tagged := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := logr.FromContext(r.Context())
			sawLogger = err == nil
			next.ServeHTTP(w, r)
		})
	}

	server := api.NewServer(staticSessions{},
		api.WithMiddlewares(middleware.RequestID, api.LoggingMiddleware(logr.Discard()), tagged))
	rr := get(t, server, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, sawLogger, "handlers see the request logger")
}
