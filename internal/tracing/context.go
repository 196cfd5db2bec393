package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the agent run ID
	RunIDKey ContextKey = "run_id"
	// ThreadIDKey is the context key for the conversation thread ID
	ThreadIDKey ContextKey = "thread_id"
	// ProviderIDKey is the context key for an MCP tool provider ID
	ProviderIDKey ContextKey = "provider_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RunID      string
	ThreadID   string
	ProviderID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithThreadID adds a thread ID to the context
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithProviderID adds a tool provider ID to the context
func WithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, ProviderIDKey, providerID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetThreadID retrieves the thread ID from the context
func GetThreadID(ctx context.Context) string {
	return stringValue(ctx, ThreadIDKey)
}

// GetProviderID retrieves the provider ID from the context
func GetProviderID(ctx context.Context) string {
	return stringValue(ctx, ProviderIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		ThreadID:   GetThreadID(ctx),
		ProviderID: GetProviderID(ctx),
	}
}

// NewRequestContext creates a new context for a request, reusing an incoming
// trace ID when one is supplied.
func NewRequestContext(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return WithTraceID(ctx, traceID)
}

// NewRunContext tags ctx with the thread and run being executed.
func NewRunContext(ctx context.Context, threadID, runID string) context.Context {
	ctx = WithThreadID(ctx, threadID)
	return WithRunID(ctx, runID)
}
