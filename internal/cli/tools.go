package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/agui-bridge/internal/config"
	"github.com/harun/agui-bridge/internal/daemon"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	toolsProvider string
	toolsTimeout  int
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools offered by configured MCP servers",
	Long: `Launch every enabled MCP server from the config, list its tools, and
shut it down again. Tools are shown under the name agents call them by.`,
	RunE: runTools,
}

// toolsDialer launches providers for the tools command.
var toolsDialer = func(cfg *config.Config) mcpregistry.Dialer {
	return mcpregistry.NewStdioDialer(mcpregistry.StdioDialerOptions{
		InheritEnv: cfg.MCP.InheritEnv,
		Logger:     zerolog.Nop(),
	})
}

func init() {
	toolsCmd.Flags().StringVar(&toolsProvider, "provider", "", "only list tools of this MCP server")
	toolsCmd.Flags().IntVar(&toolsTimeout, "timeout", 30, "timeout in seconds for launching and listing")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	specs := daemon.LaunchSpecs(cfg)
	if toolsProvider != "" {
		spec, ok := specs[toolsProvider]
		if !ok {
			return fmt.Errorf("unknown MCP server %q", toolsProvider)
		}
		specs = map[string]mcpregistry.LaunchSpec{toolsProvider: spec}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(toolsTimeout)*time.Second)
	defer cancel()

	registry := mcpregistry.New(mcpregistry.Options{
		Dialer:         toolsDialer(cfg),
		CallTimeout:    cfg.CallTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         zerolog.Nop(),
	})
	defer registry.DisconnectAll(context.Background())

	return listTools(ctx, cmd.OutOrStdout(), registry, specs)
}

// listTools connects every provider in specs and prints its tools. A
// provider that fails is reported inline and does not stop the listing.
func listTools(ctx context.Context, out io.Writer, registry *mcpregistry.Registry, specs map[string]mcpregistry.LaunchSpec) error {
	if len(specs) == 0 {
		fmt.Fprintln(out, "No MCP servers configured")
		return nil
	}

	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	failed := 0
	for _, id := range ids {
		if err := registry.Connect(ctx, id, specs[id]); err != nil {
			fmt.Fprintf(w, "%s\t(error: %v)\n", id, err)
			failed++
			continue
		}

		tools, err := registry.ListTools(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t(error: %v)\n", id, err)
			failed++
			continue
		}
		if len(tools) == 0 {
			fmt.Fprintf(w, "%s\t(no tools)\n", id)
			continue
		}

		slices.SortFunc(tools, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		for _, tool := range tools {
			fmt.Fprintf(w, "%s > %s\t%s\n", id, tool.Name, firstLine(tool.Description))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed == len(ids) {
		return fmt.Errorf("no MCP server could be listed")
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
