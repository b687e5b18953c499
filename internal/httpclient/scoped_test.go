package httpclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/bimsync/internal/httpclient"
	"github.com/stacklok/bimsync/internal/syncerr"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestScopedClient_Get(t *testing.T) {
	t.Parallel()

	var (
		receivedAuth  string
		receivedPath  string
		receivedQuery string
	)
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		receivedPath = r.URL.Path
		receivedQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	client := httpclient.NewScopedClient(server.URL+"/", "opaque-token")

	status, body, err := client.Get(context.Background(), "/projects", url.Values{"hub": []string{"h1"}})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"items":[]}`, string(body))
	assert.Equal(t, "Bearer opaque-token", receivedAuth)
	assert.Equal(t, "/projects", receivedPath)
	assert.Equal(t, "hub=h1", receivedQuery)
}

func TestScopedClient_Post(t *testing.T) {
	t.Parallel()

	var received map[string]string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	client := httpclient.NewScopedClient(server.URL, "token")

	status, body, err := client.Post(context.Background(), "translate", map[string]string{"urn": "urn:1"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.JSONEq(t, `{"result":"created"}`, string(body))
	assert.Equal(t, "urn:1", received["urn"])
}

func TestScopedClient_CredentialChecks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		credential  string
		expectAuth  bool
		expectCalls int32
	}{
		{
			name:        "empty credential fails without a network call",
			credential:  "",
			expectAuth:  true,
			expectCalls: 0,
		},
		{
			name:        "whitespace credential fails without a network call",
			credential:  "   ",
			expectAuth:  true,
			expectCalls: 0,
		},
		{
			name:        "expired jwt fails without a network call",
			credential:  signedToken(t, now.Add(-time.Minute)),
			expectAuth:  true,
			expectCalls: 0,
		},
		{
			name:        "valid jwt is sent",
			credential:  signedToken(t, now.Add(time.Hour)),
			expectCalls: 1,
		},
		{
			name:        "opaque token is sent",
			credential:  "not.a-jwt",
			expectCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := httpclient.NewScopedClient(server.URL, tt.credential,
				httpclient.WithNow(func() time.Time { return now }))

			_, _, err := client.Get(context.Background(), "/accounts", nil)

			if tt.expectAuth {
				require.Error(t, err)
				assert.True(t, syncerr.IsAuth(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectCalls, calls.Load())
		})
	}
}

func TestScopedClient_UpstreamStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		code       syncerr.Code
	}{
		{name: "401 maps to auth", statusCode: http.StatusUnauthorized, code: syncerr.CodeAuth},
		{name: "404 maps to not found", statusCode: http.StatusNotFound, code: syncerr.CodeNotFound},
		{name: "503 maps to transient", statusCode: http.StatusServiceUnavailable, code: syncerr.CodeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := httpclient.NewScopedClient(server.URL, "token")

			status, body, err := client.Get(context.Background(), "/hubs", nil)

			require.Error(t, err)
			assert.Equal(t, tt.statusCode, status)
			assert.Nil(t, body)
			assert.Equal(t, tt.code, syncerr.CodeOf(err))
			// no retries live in the client
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}
