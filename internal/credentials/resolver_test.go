package credentials

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/bimsync/internal/config"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func tokenServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, secret, _ := r.BasicAuth()
		if r.Form.Get("client_id") != "" {
			id, secret = r.Form.Get("client_id"), r.Form.Get("client_secret")
		}
		if id != "client" || secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	server.Start()
	t.Cleanup(server.Close)
	return server, &requests
}

func TestResolver_StaticCredentials(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("file-token\n"), 0600))
	emptyFile := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(emptyFile, []byte("  \n"), 0600))

	cfg := &config.Config{Sources: []config.SourceConfig{
		{Name: "from-file", Credential: config.CredentialConfig{File: tokenFile}},
		{Name: "from-env", Credential: config.CredentialConfig{Env: "COLLAB_TOKEN"}},
		{Name: "unset-env", Credential: config.CredentialConfig{Env: "MISSING_TOKEN"}},
		{Name: "empty-file", Credential: config.CredentialConfig{File: emptyFile}},
		{Name: "missing-file", Credential: config.CredentialConfig{File: filepath.Join(dir, "nope")}},
		{Name: "nothing"},
	}}
	r := NewResolver(cfg, WithGetenv(env(map[string]string{"COLLAB_TOKEN": " env-token "})))

	tests := []struct {
		source  string
		want    string
		wantErr string
	}{
		{source: "from-file", want: "file-token"},
		{source: "from-env", want: "env-token"},
		{source: "unset-env", wantErr: "environment variable MISSING_TOKEN is not set"},
		{source: "empty-file", wantErr: "is empty"},
		{source: "missing-file", wantErr: "failed to read token from file"},
		{source: "nothing", wantErr: "has no file, env or oauth2 setting"},
		{source: "unknown", wantErr: `no credential configured for source "unknown"`},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(context.Background(), tt.source)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_OAuth2ClientCredentials(t *testing.T) {
	t.Parallel()

	server, requests := tokenServer(t)
	cfg := &config.Config{Sources: []config.SourceConfig{{
		Name: "acc-main",
		Credential: config.CredentialConfig{OAuth2: &config.OAuth2Config{
			TokenURL:        server.URL + "/token",
			ClientIDEnv:     "ACC_CLIENT_ID",
			ClientSecretEnv: "ACC_CLIENT_SECRET",
			Scopes:          []string{"data:read"},
		}},
	}}}
	r := NewResolver(cfg,
		WithGetenv(env(map[string]string{"ACC_CLIENT_ID": "client", "ACC_CLIENT_SECRET": "s3cret"})),
		WithHTTPClient(server.Client()),
	)

	first, err := r.Resolve(context.Background(), "acc-main")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first)

	second, err := r.Resolve(context.Background(), "acc-main")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", second, "an unexpired token is reused")
	assert.Equal(t, int32(1), requests.Load())
}

func TestResolver_OAuth2Errors(t *testing.T) {
	t.Parallel()

	server, _ := tokenServer(t)
	oauth := &config.OAuth2Config{
		TokenURL:        server.URL + "/token",
		ClientIDEnv:     "ID",
		ClientSecretEnv: "SECRET",
	}
	cfg := &config.Config{Sources: []config.SourceConfig{
		{Name: "acc", Credential: config.CredentialConfig{OAuth2: oauth}},
	}}

	t.Run("missing client credentials", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(cfg, WithGetenv(env(map[string]string{"ID": "client"})))
		_, err := r.Resolve(context.Background(), "acc")
		assert.ErrorContains(t, err, "check ID and SECRET")
	})

	t.Run("rejected client", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(cfg,
			WithGetenv(env(map[string]string{"ID": "client", "SECRET": "wrong"})),
			WithHTTPClient(server.Client()),
		)
		_, err := r.Resolve(context.Background(), "acc")
		assert.ErrorContains(t, err, `failed to obtain OAuth2 token for source "acc"`)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(cfg, WithGetenv(env(map[string]string{"ID": "client", "SECRET": "s3cret"})))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Resolve(ctx, "acc")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
