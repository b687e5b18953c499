package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func sampling(ratio float64) *float64 { return &ratio }

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "no config"},
		{name: "telemetry off", cfg: &Config{Tracing: &TracingConfig{Enabled: true}}},
		{name: "no tracing section", cfg: &Config{Enabled: true}},
		{name: "tracing off", cfg: &Config{Enabled: true, Tracing: &TracingConfig{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tp, err := NewTracerProvider(context.Background(), tt.cfg, WithoutGlobals())
			require.NoError(t, err)
			assert.IsType(t, noop.TracerProvider{}, tp)
		})
	}
}

func TestNewTracerProvider_OTLPExporter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, &Config{
		Enabled:  true,
		Endpoint: "localhost:4318",
		Insecure: true,
		Tracing:  &TracingConfig{Enabled: true, Sampling: sampling(0.5)},
	}, WithoutGlobals())
	require.NoError(t, err)

	sdkTP, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok, "expected SDK tracer provider")
	require.NoError(t, sdkTP.Shutdown(ctx))
}

func TestNewTracerProvider_PassSampling(t *testing.T) {
	t.Parallel()

	sampledParent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0b, 0x1d},
		SpanID:     trace.SpanID{0x5e},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	tests := []struct {
		name      string
		ratio     float64
		parent    bool
		wantSpans int
	}{
		{name: "every pass kept", ratio: 1, wantSpans: 1},
		{name: "no pass kept", ratio: 0},
		{name: "sampled status call keeps its pass", ratio: 0, parent: true, wantSpans: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			exporter := tracetest.NewInMemoryExporter()
			tp, err := NewTracerProvider(ctx, &Config{
				Enabled:        true,
				ServiceName:    "bimsync-test",
				ServiceVersion: "v0.4.0",
				Tracing:        &TracingConfig{Enabled: true, Sampling: sampling(tt.ratio)},
			}, WithSpanExporter(exporter), WithoutGlobals())
			require.NoError(t, err)

			sdkTP, ok := tp.(*sdktrace.TracerProvider)
			require.True(t, ok)
			t.Cleanup(func() { _ = sdkTP.Shutdown(context.Background()) })

			if tt.parent {
				ctx = trace.ContextWithRemoteSpanContext(ctx, sampledParent)
			}
			_, span := tp.Tracer(SyncTracerName).Start(ctx, "sync.Pass")
			span.End()
			require.NoError(t, sdkTP.ForceFlush(ctx))

			spans := exporter.GetSpans()
			require.Len(t, spans, tt.wantSpans)
			if tt.wantSpans == 0 {
				return
			}

			assert.Equal(t, "sync.Pass", spans[0].Name)
			name, ok := spans[0].Resource.Set().Value("service.name")
			require.True(t, ok)
			assert.Equal(t, "bimsync-test", name.AsString())
			version, ok := spans[0].Resource.Set().Value("service.version")
			require.True(t, ok)
			assert.Equal(t, "v0.4.0", version.AsString())
			if tt.parent {
				assert.Equal(t, sampledParent.TraceID(), spans[0].SpanContext.TraceID())
			}
		})
	}
}
