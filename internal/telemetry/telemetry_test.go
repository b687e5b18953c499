package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		config     *Config
		wantTracer bool
		wantMeter  bool
		errMsg     string
	}{
		{name: "no config is no-op"},
		{name: "disabled is no-op", config: &Config{Enabled: false, Metrics: &MetricsConfig{Enabled: true}}},
		{name: "signals disabled are no-op", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: false},
			Metrics: &MetricsConfig{Enabled: false},
		}},
		{name: "tracing only", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)},
		}, wantTracer: true},
		{name: "prometheus metrics only", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
		}, wantMeter: true},
		{name: "invalid sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.5)},
		}, errMsg: "invalid telemetry configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx, WithTelemetryConfig(tt.config))
			if tt.errMsg != "" {
				require.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, tel.Shutdown(ctx)) })

			if tt.wantTracer {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			}

			if tt.wantMeter {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
				assert.NotNil(t, tel.SyncMetrics())
			} else {
				assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
				assert.Nil(t, tel.SyncMetrics())
			}

			assert.NotNil(t, tel.Tracer("test"))
		})
	}
}

func TestTelemetry_MetricsHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil without prometheus", func(t *testing.T) {
		t.Parallel()
		tel, err := New(ctx)
		require.NoError(t, err)
		assert.Nil(t, tel.MetricsHandler())
	})

	t.Run("serves sync metrics", func(t *testing.T) {
		t.Parallel()
		tel, err := New(ctx,
			WithTelemetryConfig(&Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
			}),
			WithServiceVersion("v0.1.0"),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = tel.Shutdown(ctx) })

		tel.SyncMetrics().SubscriptionOpened(ctx, "collab")

		handler := tel.MetricsHandler()
		require.NotNil(t, handler)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		body, err := io.ReadAll(rr.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "bimsync_active_subscriptions")
		assert.Contains(t, string(body), `service_version="v0.1.0"`)
	})
}

func TestTelemetry_Shutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tel, err := New(ctx)
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(ctx))
	require.NoError(t, tel.Shutdown(ctx), "no-op providers shut down repeatedly")

	tel, err = New(ctx, WithTelemetryConfig(&Config{
		Enabled: true,
		Tracing: &TracingConfig{Enabled: true},
		Metrics: &MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
	}))
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(ctx))
}
