// agui-bridge serves AG-UI agent runs over HTTP with MCP tool providers.
//
// Usage:
//
//	agui-bridge serve            # run the server in the foreground
//	agui-bridge tools            # list tools of configured MCP servers
//	agui-bridge status | stop    # inspect or stop a running server
package main

import (
	"os"

	"github.com/harun/agui-bridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
