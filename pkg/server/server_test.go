package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harun/agui-bridge/pkg/agent"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options, a agent.Agent, reg *mcpregistry.Registry) *Server {
	t.Helper()
	f := newDriverFixture(t, a, false)
	opts.Logger = zerolog.Nop()
	s, err := New(opts, f.driver, reg)
	require.NoError(t, err)
	return s
}

func newEchoRegistry(t *testing.T) *mcpregistry.Registry {
	t.Helper()

	srv := mcpserver.NewMCPServer("echo", "0.0.1", mcpserver.WithToolCapabilities(true))
	srv.AddTool(
		mcp.NewTool("echo", mcp.WithDescription("Echo text back"), mcp.WithString("text", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(req.GetString("text", "")), nil
		},
	)

	dial := func(ctx context.Context, id string, spec mcpregistry.LaunchSpec) (mcpregistry.Session, error) {
		cli, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		return mcpregistry.Handshake(ctx, cli)
	}

	reg := mcpregistry.New(mcpregistry.Options{Dialer: dial, Logger: zerolog.Nop()})
	t.Cleanup(func() { reg.DisconnectAll(context.Background()) })
	return reg
}

func TestNewServerDefaults(t *testing.T) {
	s := newTestServer(t, Options{}, nil, nil)

	assert.Equal(t, "127.0.0.1:3000", s.Addr())
	assert.Equal(t, "/agent", s.options.Path)
	assert.Equal(t, 30*time.Second, s.options.ShutdownTimeout)
	assert.Nil(t, s.rateLimiter)
}

func TestNewServerValidation(t *testing.T) {
	_, err := New(Options{}, nil, nil)
	assert.ErrorContains(t, err, "driver is required")

	_, err = New(Options{Path: "agent"}, http.NotFoundHandler(), nil)
	assert.ErrorContains(t, err, "path must start with /")
}

func TestServerRoutesRunsToDriver(t *testing.T) {
	s := newTestServer(t, Options{Path: "/run"}, scripted(nil, runStarted, runFinished), nil)

	rec := post(s.Handler(), validBody, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "/agent is not the configured path")

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(validBody))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, evts := sseEvents(t, rec.Body.String())
	assert.Equal(t, []string{"RUN_STARTED", "RUN_FINISHED"}, types(evts))
}

func TestServerHealth(t *testing.T) {
	reg := newEchoRegistry(t)
	require.NoError(t, reg.Connect(context.Background(), "echo", mcpregistry.LaunchSpec{Command: "echo"}))
	s := newTestServer(t, Options{}, nil, reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"echo"}, body["providers"])
	assert.Contains(t, body, "uptime")
}

func TestServerTools(t *testing.T) {
	reg := newEchoRegistry(t)
	require.NoError(t, reg.Connect(context.Background(), "echo", mcpregistry.LaunchSpec{Command: "echo"}))
	s := newTestServer(t, Options{}, nil, reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]providerTools
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "echo")
	assert.Equal(t, []toolInfo{{Name: "echo", Description: "Echo text back"}}, body["echo"].Tools)
	assert.Empty(t, body["echo"].Error)
}

func TestServerToolsWithoutRegistry(t *testing.T) {
	s := newTestServer(t, Options{}, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestServerMetrics(t *testing.T) {
	s := newTestServer(t, Options{}, scripted(nil, runStarted, runFinished), nil)
	post(s.Handler(), validBody, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_requests_total")
}

func TestServerRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerMinute: 1}, scripted(nil, runStarted, runFinished), nil)
	defer s.rateLimiter.Stop()
	h := s.Handler()

	rec := post(h, validBody, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(h, validBody, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServerRefusesRunsWhileShuttingDown(t *testing.T) {
	s := newTestServer(t, Options{}, scripted(nil, runStarted, runFinished), nil)
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, s.IsShuttingDown())

	rec := post(s.Handler(), validBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerStopWaitsForInFlightRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := agent.Func(func(ctx context.Context, input *agui.RunAgentInput, emit agent.Emit) error {
		if err := emit(agui.NewRunStarted(input.ThreadID, input.RunID)); err != nil {
			return err
		}
		close(started)
		<-release
		return emit(agui.NewRunFinished(input.ThreadID, input.RunID))
	})
	s := newTestServer(t, Options{}, a, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	bodyCh := make(chan string, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/agent", "application/json", strings.NewReader(validBody))
		if err != nil {
			bodyCh <- err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		bodyCh <- string(data)
	}()

	<-started
	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.Contains(t, <-bodyCh, "RUN_FINISHED")

	err = <-served
	assert.False(t, errors.Is(err, http.ErrServerClosed))
	assert.NoError(t, err)
}

func TestServerStopCancelsRunsAfterTimeout(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	a := agent.Func(func(ctx context.Context, input *agui.RunAgentInput, emit agent.Emit) error {
		if err := emit(agui.NewRunStarted(input.ThreadID, input.RunID)); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	s := newTestServer(t, Options{ShutdownTimeout: 100 * time.Millisecond}, a, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/agent", "application/json", strings.NewReader(validBody))
		if err != nil {
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}()

	<-started
	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-cancelled:
	default:
		t.Fatal("run context was not cancelled by Stop")
	}
	assert.NoError(t, <-served)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/agent", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", clientIP(req))

	req.Header.Set("X-Real-IP", "10.9.9.9")
	assert.Equal(t, "10.9.9.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "1.1.1.1, 10.0.0.1")
	assert.Equal(t, "1.1.1.1", clientIP(req))
}
