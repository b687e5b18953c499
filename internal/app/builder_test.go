package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/bimsync/internal/config"
	coordinatormocks "github.com/stacklok/bimsync/internal/sync/coordinator/mocks"
	"github.com/stacklok/bimsync/internal/telemetry"
)

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	require.NotNil(t, built)
	assert.Empty(t, built.address, "the configured address is used unless overridden")
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Equal(t, defaultWriteTimeout, built.writeTimeout)
}

func TestBaseConfig_OptionError(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(
		WithConfig(createValidTestConfig()),
		WithAddress(":"),
	)
	require.Error(t, err)
	require.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "port only", address: ":9090"},
		{name: "localhost", address: "localhost:9090"},
		{name: "ipv4", address: "127.0.0.1:8080"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: ":", wantErr: true},
		{name: "no colon", address: "8080", wantErr: true},
		{name: "hostname", address: "example.com:8080", wantErr: true},
		{name: "port out of range", address: ":70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &syncAppConfig{}
			err := WithAddress(tt.address)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, cfg.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()

	cfg := &syncAppConfig{}
	mw := func(next http.Handler) http.Handler { return next }

	require.NoError(t, WithMiddlewares(mw, mw)(cfg))
	assert.Len(t, cfg.middlewares, 2)
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		telemetry   *telemetry.Config
		wantMetrics bool
	}{
		{name: "without telemetry"},
		{
			name: "with prometheus metrics",
			telemetry: &telemetry.Config{
				Enabled: true,
				Metrics: &telemetry.MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
			},
			wantMetrics: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(tt.telemetry))
			require.NoError(t, err)
			t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

			b, err := baseConfig(WithConfig(createValidTestConfig()), WithTelemetry(tel), WithAddress(":9090"))
			require.NoError(t, err)

			server, err := buildHTTPServer(ctx, b, noSessions{}, &fakeCoordinator{})
			require.NoError(t, err)
			assert.Equal(t, ":9090", server.Addr)
			assert.Equal(t, defaultIdleTimeout, server.IdleTimeout)

			ts := httptest.NewUnstartedServer(server.Handler)
			ts.Config.SetKeepAlivesEnabled(false)
			ts.Start()
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/healthz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("Content-Type"))

			// The fake coordinator has not been started
			resp, err = http.Get(ts.URL + "/readyz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

			resp, err = http.Get(ts.URL + "/metrics")
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)

			if !tt.wantMetrics {
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)
				return
			}
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), "bimsync_http_requests_total")
		})
	}
}

func TestNewComponents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	components, err := NewComponents(ctx, WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	require.NotNil(t, components.Orchestrator)
	require.NotNil(t, components.Subscriptions)
	require.NotNil(t, components.Credentials)
	assert.Nil(t, components.Coordinator)
	assert.Empty(t, components.Orchestrator.Sessions())

	require.NoError(t, components.Close(ctx))
}

func TestNewComponents_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewComponents(context.Background())
	assert.ErrorContains(t, err, "config cannot be nil")

	cfg := createValidTestConfig()
	cfg.Translation = &config.TranslationConfig{InitialBackoff: "soon"}
	_, err = NewComponents(context.Background(), WithConfig(cfg))
	assert.ErrorContains(t, err, "initialBackoff")
}

func TestNewSyncApp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	creds := coordinatormocks.NewMockCredentialResolver(ctrl)

	cfg := createValidTestConfig()
	cfg.Server = &config.ServerConfig{Address: "127.0.0.1:9191"}

	app, err := NewSyncApp(context.Background(),
		WithConfig(cfg),
		WithCredentialResolver(creds),
	)
	require.NoError(t, err)
	require.NotNil(t, app)

	assert.Equal(t, "127.0.0.1:9191", app.GetHTTPServer().Addr)
	assert.Same(t, cfg, app.GetConfig())
	require.NotNil(t, app.Components().Coordinator)
	assert.False(t, app.Components().Coordinator.Ready(), "no watch has been started yet")

	// Never started, so the resolver is never called
	require.NoError(t, app.Stop(defaultRequestTimeout))
}

func TestNewSyncApp_AddressOverride(t *testing.T) {
	t.Parallel()

	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithAddress(":9292"),
	)
	require.NoError(t, err)
	assert.Equal(t, ":9292", app.GetHTTPServer().Addr)
	require.NoError(t, app.Stop(defaultRequestTimeout))
}

func TestNewSyncApp_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []SyncAppOptions
		wantErr string
	}{
		{
			name:    "invalid address",
			opts:    []SyncAppOptions{WithConfig(createValidTestConfig()), WithAddress("nope")},
			wantErr: "failed to build base configuration",
		},
		{
			name:    "missing config",
			wantErr: "config cannot be nil",
		},
		{
			name: "watch on unknown source",
			opts: []SyncAppOptions{WithConfig(func() *config.Config {
				cfg := createValidTestConfig()
				cfg.Watches = append(cfg.Watches, config.WatchConfig{Source: "acc", ItemID: "x"})
				return cfg
			}())},
			wantErr: "watches[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, err := NewSyncApp(context.Background(), tt.opts...)
			require.Error(t, err)
			assert.Nil(t, app)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
