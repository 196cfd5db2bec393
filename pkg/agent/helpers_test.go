package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func newMathServer() *server.MCPServer {
	s := server.NewMCPServer("math", "0.0.1", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("add",
			mcp.WithDescription("Add two numbers"),
			mcp.WithNumber("a", mcp.Required()),
			mcp.WithNumber("b", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			a, aok := req.GetArguments()["a"].(float64)
			b, bok := req.GetArguments()["b"].(float64)
			if !aok || !bok {
				return mcp.NewToolResultError("a and b must be numbers"), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
		},
	)
	return s
}

// newTestToolSet wires a "math" provider served in process.
func newTestToolSet(t *testing.T) *ToolSet {
	t.Helper()

	dial := func(ctx context.Context, id string, spec mcpregistry.LaunchSpec) (mcpregistry.Session, error) {
		if spec.Command != "math" {
			return nil, errors.New("no such provider")
		}
		cli, err := client.NewInProcessClient(newMathServer())
		if err != nil {
			return nil, err
		}
		return mcpregistry.Handshake(ctx, cli)
	}

	reg := mcpregistry.New(mcpregistry.Options{Dialer: dial, Logger: zerolog.Nop()})
	t.Cleanup(func() { reg.DisconnectAll(context.Background()) })

	return NewToolSet(reg, map[string]mcpregistry.LaunchSpec{
		"math":   {Command: "math"},
		"broken": {Command: "broken"},
	}, zerolog.Nop())
}

// stubProvider replays scripted responses and records requests.
type stubProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []LLMRequest
}

func (p *stubProvider) Provider() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(p.responses) == 0 {
		return &LLMResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}
