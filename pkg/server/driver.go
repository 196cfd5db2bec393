package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/agui-bridge/internal/observability"
	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agent"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/harun/agui-bridge/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "agui-bridge/server"

	// MaxBodyBytes caps the size of a run request body.
	MaxBodyBytes = 8 << 20

	// RunErrorCode is the code carried by RUN_ERROR events the driver emits.
	RunErrorCode = "AGENT_ERROR"

	defaultRetry = 3 * time.Second
)

// DriverOptions configures a Driver.
type DriverOptions struct {
	Sessions session.Store
	Agents   agent.Factory

	// Retry is the reconnect interval announced before the first event.
	Retry time.Duration

	// StrictClientErrors answers malformed input with 400 instead of 500.
	StrictClientErrors bool

	Logger zerolog.Logger
}

// Driver turns one run request into a streamed response.
type Driver struct {
	options   DriverOptions
	validator *Validator
	logger    zerolog.Logger
}

// NewDriver creates a driver.
func NewDriver(options DriverOptions) (*Driver, error) {
	if options.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if options.Agents == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if options.Retry <= 0 {
		options.Retry = defaultRetry
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	return &Driver{
		options:   options,
		validator: validator,
		logger:    options.Logger.With().Str("component", "driver").Logger(),
	}, nil
}

// errorResponse is the body written for failures before the stream opens.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServeHTTP runs the agent for one request.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get("X-Trace-Id"))
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.request")
	defer span.End()

	// Validate
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		d.reject(ctx, w, nil, &ValidationError{Err: err}, startTime)
		tracing.FailSpan(span, err)
		return
	}

	input, err := d.validator.Decode(body)
	if err != nil {
		d.reject(ctx, w, nil, err, startTime)
		tracing.FailSpan(span, err)
		return
	}
	if input.RunID == "" {
		input.RunID = tracing.NewRunID()
	}

	ctx = tracing.NewRunContext(ctx, input.ThreadID, input.RunID)
	span.SetAttributes(
		attribute.String("thread_id", input.ThreadID),
		attribute.String("run_id", input.RunID),
		attribute.Int("message_count", len(input.Messages)),
		attribute.Int("tool_count", len(input.Tools)),
	)
	logger := tracing.LoggerFromContext(ctx, d.logger)

	logger.Info().
		Int("message_count", len(input.Messages)).
		Int("tool_count", len(input.Tools)).
		Msg("Received agent request")

	// Session touch
	if _, err := d.options.Sessions.GetOrCreate(ctx, input.ThreadID); err != nil {
		d.reject(ctx, w, input, err, startTime)
		tracing.FailSpan(span, err)
		return
	}
	if err := d.options.Sessions.UpdateMessages(ctx, input.ThreadID, input.Messages); err != nil {
		d.reject(ctx, w, input, err, startTime)
		tracing.FailSpan(span, err)
		return
	}

	// Open
	encoder := agui.NewEncoder(r.Header.Get("Accept"))
	rc := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", encoder.ContentType())
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	observability.StreamOpened()
	defer observability.StreamClosed()

	if err := writeFlush(w, rc, encoder.Retry(d.options.Retry)); err != nil {
		d.finish(ctx, "client_gone", startTime, 0)
		return
	}

	status, count, err := d.forward(ctx, w, rc, encoder, input)
	if err != nil {
		tracing.FailSpan(span, err)
		d.fault(ctx, w, rc, encoder, input, err)
	}
	d.finish(ctx, status, startTime, count)
}

// forward runs the agent and copies its events to the client in order. It
// returns a non-nil error only for faults that should end the stream with
// RUN_ERROR.
func (d *Driver) forward(ctx context.Context, w io.Writer, rc *http.ResponseController, encoder *agui.Encoder, input *agui.RunAgentInput) (string, int, error) {
	a, err := d.options.Agents.New(ctx, input)
	if err != nil {
		return "stream_error", 0, fmt.Errorf("failed to create agent: %w", err)
	}

	stream := a.Run(ctx, input)
	defer stream.Close()

	count := 0
	for stream.Next() {
		evt := stream.Current()

		data, err := encoder.Encode(evt)
		if err != nil {
			return "stream_error", count, err
		}
		if err := writeFlush(w, rc, data); err != nil {
			return "client_gone", count, nil
		}

		count++
		observability.RecordStreamEvent(string(evt.Type()))
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return "client_gone", count, nil
		}
		return "stream_error", count, err
	}
	return "success", count, nil
}

// fault logs a mid-stream failure and ends the stream with RUN_ERROR.
func (d *Driver) fault(ctx context.Context, w io.Writer, rc *http.ResponseController, encoder *agui.Encoder, input *agui.RunAgentInput, cause error) {
	logger := tracing.LoggerFromContext(ctx, d.logger)

	evt := logger.Error().
		Err(cause).
		Str("error_type", fmt.Sprintf("%T", cause)).
		Int("message_count", len(input.Messages)).
		Int("tool_count", len(input.Tools))
	if len(input.Tools) > 0 {
		evt = evt.Strs("tool_names", input.ToolNames())
	}
	var panicErr *agent.PanicError
	if errors.As(cause, &panicErr) {
		evt = evt.Str("stack", string(panicErr.Stack))
	}
	evt.Msg("Agent request failed")

	data, err := encoder.Encode(agui.NewRunError(cause.Error(), RunErrorCode))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode run error")
		return
	}
	if err := writeFlush(w, rc, data); err != nil {
		logger.Debug().Err(err).Msg("Client gone before run error was delivered")
		return
	}
	observability.RecordStreamEvent(string(agui.EventRunError))
}

// reject answers a failure that happened before the stream opened. input is
// nil when the body could not be decoded.
func (d *Driver) reject(ctx context.Context, w http.ResponseWriter, input *agui.RunAgentInput, cause error, startTime time.Time) {
	logger := tracing.LoggerFromContext(ctx, d.logger)

	evt := logger.Error().
		Err(cause).
		Str("error_type", fmt.Sprintf("%T", cause)).
		Dur("duration", time.Since(startTime))
	if input != nil {
		evt = evt.
			Int("message_count", len(input.Messages)).
			Int("tool_count", len(input.Tools))
		if len(input.Tools) > 0 {
			evt = evt.Strs("tool_names", input.ToolNames())
		}
	}
	evt.Msg("Agent request failed")

	status := http.StatusInternalServerError
	if d.options.StrictClientErrors && isClientError(cause) {
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(status),
		Message: cause.Error(),
	})

	observability.RecordRequest("rejected", time.Since(startTime))
}

func (d *Driver) finish(ctx context.Context, status string, startTime time.Time, count int) {
	duration := time.Since(startTime)
	observability.RecordRequest(status, duration)

	logger := tracing.LoggerFromContext(ctx, d.logger)
	switch status {
	case "client_gone":
		logger.Info().Int("events", count).Dur("duration", duration).Msg("Client disconnected mid-stream")
	case "success":
		logger.Info().Int("events", count).Dur("duration", duration).Msg("Completed agent request")
	default:
		logger.Warn().Int("events", count).Dur("duration", duration).Msg("Agent request ended with error")
	}
}

func isClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, session.ErrInvalidThreadID)
}

func writeFlush(w io.Writer, rc *http.ResponseController, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	return rc.Flush()
}
