package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption adjusts how NewTracerProvider builds the provider
type TracerProviderOption func(*tracerSetup)

type tracerSetup struct {
	exporter sdktrace.SpanExporter
	globals  bool
}

// WithSpanExporter replaces the OTLP exporter, e.g. with an in-memory one in tests
func WithSpanExporter(exporter sdktrace.SpanExporter) TracerProviderOption {
	return func(s *tracerSetup) {
		s.exporter = exporter
	}
}

// WithoutGlobals keeps the provider and the W3C propagator out of the otel globals
func WithoutGlobals() TracerProviderOption {
	return func(s *tracerSetup) {
		s.globals = false
	}
}

// NewTracerProvider builds the provider for sync pass spans from cfg.
// A nil cfg, or one with telemetry or tracing disabled, yields a no-op provider.
// The caller shuts the returned SDK provider down.
func NewTracerProvider(ctx context.Context, cfg *Config, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	if cfg == nil || !cfg.Enabled || cfg.Tracing == nil || !cfg.Tracing.Enabled {
		slog.Debug("Sync pass tracing disabled")
		return noop.NewTracerProvider(), nil
	}

	setup := &tracerSetup{globals: true}
	for _, opt := range opts {
		opt(setup)
	}

	res, err := newResource(ctx, cfg.GetServiceName(), cfg.GetServiceVersion())
	if err != nil {
		return nil, err
	}

	if setup.exporter == nil {
		setup.exporter, err = newOTLPSpanExporter(ctx, cfg.GetEndpoint(), cfg.GetInsecure())
		if err != nil {
			return nil, err
		}
	}

	ratio := cfg.Tracing.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(setup.exporter),
		sdktrace.WithSampler(passSampler(ratio)),
	)

	if setup.globals {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	if cfg.GetInsecure() {
		slog.Warn("Sync pass spans are exported over plain HTTP", "endpoint", cfg.GetEndpoint())
	}
	slog.Info("Sync pass tracing enabled",
		"endpoint", cfg.GetEndpoint(),
		"sampling_ratio", ratio,
	)

	return tp, nil
}

// passSampler samples root pass spans by trace ID ratio. A pass started under a
// sampled remote parent, such as a traced status API call, is always kept.
func passSampler(ratio float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

func newOTLPSpanExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP span exporter: %w", err)
	}
	return exporter, nil
}
