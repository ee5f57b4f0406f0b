package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})
	return recorder
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestTraceDelivery(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceDelivery(context.Background(), "conn_1", "video-1")
	AddSpanAttributes(ctx, BytesKey.Int64(1024), OutcomeKey.String("completed"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "delivery.stream", spans[0].Name())
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "conn_1", got[ConnIDKey].AsString())
	assert.Equal(t, "video-1", got[VideoIDKey].AsString())
	assert.Equal(t, int64(1024), got[BytesKey].AsInt64())
	assert.Equal(t, "completed", got[OutcomeKey].AsString())
}

func TestTraceConnection_NestsStreams(t *testing.T) {
	recorder := recordSpans(t)

	ctx, conn := TraceConnection(context.Background(), "conn_1", "127.0.0.1:5000")
	_, stream := TraceDelivery(ctx, "conn_1", "video-1")
	stream.End()
	conn.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "127.0.0.1:5000", attrs(spans[1].Attributes())[RemoteAddrKey].AsString())
}

func TestRecordError(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceRepositoryOperation(context.Background(), "list", "redis")
	RecordError(ctx, errors.New("redis down"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "catalog.list", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "redis down", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestTraceHTTPRequest(t *testing.T) {
	recorder := recordSpans(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/v1/videos")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http.GET", spans[0].Name())
}

func TestHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	AddSpanAttributes(ctx, BytesKey.Int64(1))
	RecordError(ctx, errors.New("ignored"))
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false, ServiceName: "vidstream"})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
