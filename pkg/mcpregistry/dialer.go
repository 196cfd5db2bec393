package mcpregistry

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// LaunchSpec describes how to start a provider process.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE, appended to the inherited environment
}

// Session is an initialized client connection to one provider.
// *client.Client satisfies it.
type Session interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer spawns a provider and completes the initialize handshake. On error it
// must leave nothing running.
type Dialer func(ctx context.Context, providerID string, spec LaunchSpec) (Session, error)

// ClientInfo identifies the bridge to providers during initialize.
var ClientInfo = mcp.Implementation{
	Name:    "agui-bridge",
	Version: "1.0.0",
}

// StdioDialerOptions configures NewStdioDialer.
type StdioDialerOptions struct {
	// InheritEnv prepends the bridge's own environment to LaunchSpec.Env.
	InheritEnv bool
	// Logger receives the provider's stderr at debug level.
	Logger zerolog.Logger
}

// NewStdioDialer returns a Dialer that launches providers as child processes.
// The process outlives ctx; ctx bounds only the handshake.
func NewStdioDialer(opts StdioDialerOptions) Dialer {
	return func(ctx context.Context, providerID string, spec LaunchSpec) (Session, error) {
		env := spec.Env
		if opts.InheritEnv {
			env = append(os.Environ(), spec.Env...)
		}

		cli, err := client.NewStdioMCPClient(spec.Command, env, spec.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create MCP client: %w", err)
		}

		if stderr, ok := client.GetStderr(cli); ok {
			logger := opts.Logger.With().Str("provider_id", providerID).Logger()
			go func() {
				scanner := bufio.NewScanner(stderr)
				for scanner.Scan() {
					logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
				}
			}()
		}

		return Handshake(ctx, cli)
	}
}

// Handshake starts cli and runs the initialize exchange, closing cli if
// either step fails.
func Handshake(ctx context.Context, cli *client.Client) (Session, error) {
	if err := cli.Start(ctx); err != nil {
		cli.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = ClientInfo

	if _, err := cli.Initialize(ctx, req); err != nil {
		cli.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	return cli, nil
}
