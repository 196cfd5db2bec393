package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	require.NoError(t, InitOpenTelemetry(Options{
		ServiceName:    "agui-bridge-test",
		ServiceVersion: "0.0.1",
		Processors:     []sdktrace.SpanProcessor{recorder},
	}))
	t.Cleanup(func() { ShutdownOpenTelemetry(context.Background()) })
	return recorder
}

func TestInitOpenTelemetryRequiresServiceName(t *testing.T) {
	assert.ErrorContains(t, InitOpenTelemetry(Options{}), "service name is required")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "test", "agent.request", attribute.String("thread_id", "t1"))
	traceID := GetTraceID(ctx)
	span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "agent.request", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("thread_id", "t1"))
	assert.Contains(t, ended[0].Resource().Attributes(), semconv.ServiceName("agui-bridge-test"))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	installRecorder(t)

	ctx, span := StartSpan(WithTraceID(context.Background(), "client-trace"), "test", "agent.request")
	defer span.End()

	assert.Equal(t, "client-trace", GetTraceID(ctx))
}

func TestFailSpan(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartSpan(context.Background(), "test", "mcp.call_tool")
	FailSpan(span, nil)
	FailSpan(span, errors.New("provider crashed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "provider crashed", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}
