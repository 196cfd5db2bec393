package mcpregistry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected matches NotConnectedError via errors.Is.
	ErrNotConnected = errors.New("mcp provider not connected")

	// ErrInvalidLaunchSpec is wrapped by ConnectFailedError when the provider
	// id or command is empty.
	ErrInvalidLaunchSpec = errors.New("invalid launch spec")
)

// ConnectFailedError reports that a provider could not be spawned or did not
// complete the initialize handshake. Nothing is registered when it is returned.
type ConnectFailedError struct {
	ProviderID string
	Err        error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("failed to connect to MCP server %s: %v", e.ProviderID, e.Err)
}

func (e *ConnectFailedError) Unwrap() error { return e.Err }

// NotConnectedError reports an operation against a provider with no live
// connection.
type NotConnectedError struct {
	ProviderID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("MCP server %s not connected", e.ProviderID)
}

func (e *NotConnectedError) Unwrap() error { return ErrNotConnected }

// ToolCallFailedError wraps transport, protocol and timeout failures of a
// tools/call or tools/list request. The connection stays registered.
type ToolCallFailedError struct {
	ProviderID string
	Tool       string // empty for tools/list
	Err        error
}

func (e *ToolCallFailedError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("failed to list tools on %s: %v", e.ProviderID, e.Err)
	}
	return fmt.Sprintf("tool call %s on %s failed: %v", e.Tool, e.ProviderID, e.Err)
}

func (e *ToolCallFailedError) Unwrap() error { return e.Err }

// DisconnectError reports that closing a provider's connection failed. The
// provider has already been removed from the registry.
type DisconnectError struct {
	ProviderID string
	Err        error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("failed to disconnect MCP server %s: %v", e.ProviderID, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }
