package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/harun/agui-bridge/internal/config"
	"github.com/harun/agui-bridge/internal/logger"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useInProcessDialer serves every provider from an in-process echo server
// and records the launch specs it was asked for.
func useInProcessDialer(t *testing.T) *[]mcpregistry.LaunchSpec {
	t.Helper()

	var dialed []mcpregistry.LaunchSpec
	orig := newDialer
	newDialer = func(cfg *config.Config, log zerolog.Logger) mcpregistry.Dialer {
		return func(ctx context.Context, id string, spec mcpregistry.LaunchSpec) (mcpregistry.Session, error) {
			if spec.Command == "missing" {
				return nil, errors.New("executable not found")
			}
			dialed = append(dialed, spec)

			srv := server.NewMCPServer(id, "0.0.1", server.WithToolCapabilities(true))
			srv.AddTool(mcp.NewTool("echo", mcp.WithString("text")),
				func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					return mcp.NewToolResultText(req.GetString("text", "")), nil
				})
			cli, err := client.NewInProcessClient(srv)
			if err != nil {
				return nil, err
			}
			return mcpregistry.Handshake(ctx, cli)
		}
	}
	t.Cleanup(func() { newDialer = orig })
	return &dialed
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 1
	cfg.Sessions.Dir = cfg.DataDir + "/sessions"
	cfg.Logging.Level = "error"
	return cfg
}

// createTestDaemon creates a daemon with logging silenced
func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, "", log)
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.tools)
	assert.NotNil(t, d.sessions)
	assert.NotNil(t, d.cleanup)
	assert.NotNil(t, d.server)
	assert.NotNil(t, d.lifecycle)
}

func TestNewRejectsBadSessionBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = "redis"

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, "", log)
	assert.ErrorContains(t, err, "failed to open session store")
}

func TestLaunchSpecsSkipsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.MCP.Servers = map[string]config.MCPServerConfig{
		"files": {Command: "mcp-files", Args: []string{"--root", "/tmp"}, Env: []string{"A=1"}},
		"off":   {Command: "mcp-off", Disabled: true},
	}

	specs := LaunchSpecs(cfg)
	assert.Equal(t, map[string]mcpregistry.LaunchSpec{
		"files": {Command: "mcp-files", Args: []string{"--root", "/tmp"}, Env: []string{"A=1"}},
	}, specs)
}

func TestDaemonStartStop(t *testing.T) {
	dialed := useInProcessDialer(t)

	cfg := testConfig(t)
	cfg.MCP.Servers = map[string]config.MCPServerConfig{
		"echo": {Command: "echo-server", Autoconnect: true},
		"lazy": {Command: "lazy-server"},
		"gone": {Command: "missing", Autoconnect: true},
		"off":  {Command: "echo-server", Autoconnect: true, Disabled: true},
	}
	d := createTestDaemon(t, cfg)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second start must fail")

	status := d.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)
	assert.Equal(t, []string{"echo"}, status.Providers, "only healthy autoconnect servers are connected")
	assert.Len(t, *dialed, 1)

	pid, err := d.lifecycle.GetPID()
	require.NoError(t, err)
	assert.Positive(t, pid)

	// a run through the real HTTP stack
	resp, err := http.Post("http://"+status.Addr+cfg.Server.Path, "application/json",
		strings.NewReader(`{"threadId":"t1","runId":"r1","messages":[{"id":"m1","role":"user","content":"/call echo.echo {\"text\":\"pong\"}"}]}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"content":"pong"`)

	sess, err := d.GetSessions().Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Empty(t, d.registry.Providers(), "stop disconnects every provider")
	assert.False(t, d.lifecycle.IsRunning())

	assert.Error(t, d.Stop(), "second stop must fail")
}

func TestApplyServers(t *testing.T) {
	dialed := useInProcessDialer(t)

	cfg := testConfig(t)
	cfg.MCP.Servers = map[string]config.MCPServerConfig{
		"keep":   {Command: "keep", Autoconnect: true},
		"change": {Command: "v1", Autoconnect: true},
		"drop":   {Command: "drop", Autoconnect: true},
	}
	d := createTestDaemon(t, cfg)
	ctx := context.Background()

	require.NoError(t, d.tools.ConnectAll(ctx, []string{"keep", "change", "drop"}))
	require.Len(t, *dialed, 3)

	next := testConfig(t)
	next.MCP.Servers = map[string]config.MCPServerConfig{
		"keep":   {Command: "keep", Autoconnect: true},
		"change": {Command: "v2"},
		"new":    {Command: "new", Autoconnect: true},
	}
	d.ApplyServers(ctx, next)

	assert.Equal(t, []string{"keep", "new"}, d.registry.Providers())
	assert.Equal(t, []string{"change", "keep", "new"}, d.tools.Providers())
	assert.Equal(t, "v2", d.Specs()["change"].Command)

	// the changed provider reconnects lazily with its new spec
	require.NoError(t, d.tools.Ensure(ctx, "change"))
	last := (*dialed)[len(*dialed)-1]
	assert.Equal(t, "v2", last.Command)

	d.registry.DisconnectAll(ctx)
}

func TestDaemonWaitReturnsOnServeFailure(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start())

	d.serveErr <- errors.New("listener died")

	done := make(chan error, 1)
	go func() { done <- d.Wait() }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "listener died")
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
	assert.False(t, d.Status().Running)
}
