package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_AddsRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithTraceID(context.Background(), "req_1")
	cl.LogRequest(ctx, "GET", "/api/v1/videos", 200, 3)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req_1", fields["trace_id"])
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, int64(200), fields["status_code"])
	assert.NotContains(t, fields, "otel_trace_id")
}

func TestContextLogger_AddsSpanIDs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	tp := tracesdk.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	cl.Sugared(ctx).Infow("stream started", "bytes", 10)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["otel_trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["otel_span_id"])
	assert.Equal(t, int64(10), fields["bytes"])
}

func TestContextLogger_NoContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.WithContext(context.Background()).Warn("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New("not-a-level")
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestNewWithFormat_Console(t *testing.T) {
	l := NewWithFormat("debug", "console")
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
