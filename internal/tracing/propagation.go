package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with whatever tracing
// fields are present on ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.ThreadID != "" {
		logCtx = logCtx.Str("thread_id", tc.ThreadID)
	}
	if tc.RunID != "" {
		logCtx = logCtx.Str("run_id", tc.RunID)
	}
	if tc.ProviderID != "" {
		logCtx = logCtx.Str("provider_id", tc.ProviderID)
	}

	return logCtx.Logger()
}
