// mcp-echo is a minimal MCP tool provider over stdio, useful for trying the
// bridge locally. It offers echo(text) and add(a, b).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("mcp-echo v%s\n", version)
			return
		default:
			fmt.Fprintf(os.Stderr, "Usage: mcp-echo [--version]\n")
			os.Exit(1)
		}
	}

	// stdout carries the protocol; diagnostics go to stderr
	if err := server.ServeStdio(newServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServer() *server.MCPServer {
	s := server.NewMCPServer("mcp-echo", version, server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Return the given text unchanged"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	), handleEcho)

	s.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required()),
		mcp.WithNumber("b", mcp.Required()),
	), handleAdd)

	return s
}

func handleEcho(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := req.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strconv.FormatFloat(a+b, 'f', -1, 64)), nil
}
