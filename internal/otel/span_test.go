package otel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("github.com/stacklok/bimsync/sync")
}

func attrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartSpan_EngineSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		span  string
		attrs []attribute.KeyValue
		want  map[attribute.Key]attribute.Value
	}{
		{
			name: "translation poll",
			span: "translation.Poll",
			attrs: []attribute.KeyValue{
				AttrVersionURN.String("urn:adsk.wipprod:fs.file:vf.abc?version=3"),
				AttrJobID.String("job-1"),
				AttrAttempts.Int(4),
				AttrJobState.String("polling"),
			},
			want: map[attribute.Key]attribute.Value{
				"version.urn":          attribute.StringValue("urn:adsk.wipprod:fs.file:vf.abc?version=3"),
				"translation.job_id":   attribute.StringValue("job-1"),
				"translation.attempts": attribute.IntValue(4),
				"translation.state":    attribute.StringValue("polling"),
			},
		},
		{
			name: "subscription open",
			span: "subscriptions.Open",
			attrs: []attribute.KeyValue{
				AttrSourceKind.String("collab"),
				AttrStreamID.String("stream-7"),
			},
			want: map[attribute.Key]attribute.Value{
				"source.kind":            attribute.StringValue("collab"),
				"subscription.stream_id": attribute.StringValue("stream-7"),
			},
		},
		{
			name:  "runtime fetch",
			span:  "parserruntime.Fetch",
			attrs: []attribute.KeyValue{AttrRuntimeBytes.Int(1024)},
			want: map[attribute.Key]attribute.Value{
				"runtime.bytes": attribute.IntValue(1024),
			},
		},
		{
			name: "sync pass",
			span: "sync.Pass",
			attrs: []attribute.KeyValue{
				AttrSourceKind.String("acc"),
				AttrSourceURL.String("https://developer.api.example.com"),
				AttrItemID.String("item-1"),
			},
			want: map[attribute.Key]attribute.Value{
				"source.kind":     attribute.StringValue("acc"),
				"source.base_url": attribute.StringValue("https://developer.api.example.com"),
				"item.id":         attribute.StringValue("item-1"),
			},
		},
		{
			name: "version discovery",
			span: "sync.DiscoverVersions",
			attrs: []attribute.KeyValue{
				AttrItemID.String("item-1"),
				AttrResultCount.Int(3),
			},
			want: map[attribute.Key]attribute.Value{
				"item.id":      attribute.StringValue("item-1"),
				"result.count": attribute.IntValue(3),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exporter, tracer := recordingTracer(t)
			_, span := StartSpan(context.Background(), tracer, tt.span, trace.WithAttributes(tt.attrs...))
			require.True(t, span.SpanContext().IsValid())
			span.End()

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.span, spans[0].Name)
			assert.Equal(t, tt.want, attrs(spans[0]))
		})
	}
}

func TestStartSpan_NestsUnderPass(t *testing.T) {
	t.Parallel()

	exporter, tracer := recordingTracer(t)

	ctx, pass := StartSpan(context.Background(), tracer, "sync.Pass")
	_, submit := StartSpan(ctx, tracer, "translation.Submit")
	submit.End()
	pass.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "translation.Submit", spans[0].Name)
	assert.Equal(t, pass.SpanContext().SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, pass.SpanContext().TraceID(), spans[0].SpanContext.TraceID())
}

func TestStartSpan_NilTracerKeepsContextSpan(t *testing.T) {
	t.Parallel()

	// tracing disabled: no span at all
	ctx, span := StartSpan(context.Background(), nil, "translation.Poll")
	require.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })

	// a nil tracer inside a traced pass returns the pass span, so attributes still land on it
	exporter, tracer := recordingTracer(t)
	passCtx, pass := StartSpan(context.Background(), tracer, "sync.Pass")
	_, inner := StartSpan(passCtx, nil, "parserruntime.Fetch")
	assert.Equal(t, pass.SpanContext(), inner.SpanContext())
	pass.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "sync.Pass", spans[0].Name)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvent  bool
	}{
		{name: "nil error leaves the span untouched", wantStatus: codes.Unset},
		{
			name:       "poll failure",
			err:        fmt.Errorf("failed to poll translation: %w", errors.New("503 from upstream")),
			wantStatus: codes.Error,
			wantEvent:  true,
		},
		{
			name: "status hides the upstream URL",
			err: fmt.Errorf("GET https://developer.api.example.com/translate/urn:x/status?token=secret: %w",
				errors.New("connection reset")),
			wantStatus: codes.Error,
			wantEvent:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exporter, tracer := recordingTracer(t)
			_, span := StartSpan(context.Background(), tracer, "translation.Poll")
			RecordError(span, tt.err)
			span.End()

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.wantStatus, spans[0].Status.Code)

			if !tt.wantEvent {
				assert.Empty(t, spans[0].Events)
				return
			}
			assert.Equal(t, "operation failed", spans[0].Status.Description)
			assert.NotContains(t, spans[0].Status.Description, "token=secret")
			require.Len(t, spans[0].Events, 1)
			assert.Equal(t, "exception", spans[0].Events[0].Name)
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("no span")) })
}
