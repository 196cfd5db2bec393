// Package mcpregistry owns the connections to MCP tool providers that run as
// child processes speaking JSON-RPC over stdio.
//
// A Registry holds at most one live connection per provider id. Connect is
// idempotent, tool calls and listings are forwarded to the provider's client
// and may run concurrently, and Disconnect always forgets the provider even
// when closing its process fails. There is no automatic reconnection: a
// provider whose process dies keeps its entry until it is disconnected, and
// calls against it fail with ToolCallFailedError.
package mcpregistry
