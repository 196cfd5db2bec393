package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/harun/agui-bridge/pkg/mcpregistry"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// ToolNameSeparator joins provider id and tool name in the names offered to
// models, e.g. "files__read_file".
const ToolNameSeparator = "__"

// ErrUnknownProvider is returned for provider ids with no launch spec.
var ErrUnknownProvider = errors.New("unknown tool provider")

// ToolSet binds configured launch specs to a registry and connects providers
// lazily on first use.
type ToolSet struct {
	registry *mcpregistry.Registry
	logger   zerolog.Logger

	mu    sync.RWMutex
	specs map[string]mcpregistry.LaunchSpec
}

// NewToolSet creates a tool set over registry.
func NewToolSet(registry *mcpregistry.Registry, specs map[string]mcpregistry.LaunchSpec, logger zerolog.Logger) *ToolSet {
	t := &ToolSet{
		registry: registry,
		logger:   logger.With().Str("component", "toolset").Logger(),
	}
	t.SetSpecs(specs)
	return t
}

// SetSpecs replaces the known launch specs. Live connections are untouched.
func (t *ToolSet) SetSpecs(specs map[string]mcpregistry.LaunchSpec) {
	copied := make(map[string]mcpregistry.LaunchSpec, len(specs))
	for id, spec := range specs {
		copied[id] = spec
	}

	t.mu.Lock()
	t.specs = copied
	t.mu.Unlock()
}

// Registry returns the underlying registry.
func (t *ToolSet) Registry() *mcpregistry.Registry {
	return t.registry
}

// Providers returns the configured provider ids in sorted order.
func (t *ToolSet) Providers() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.specs))
	for id := range t.specs {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (t *ToolSet) spec(id string) (mcpregistry.LaunchSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.specs[id]
	return spec, ok
}

// Ensure connects provider if it is not connected yet.
func (t *ToolSet) Ensure(ctx context.Context, provider string) error {
	if t.registry.IsConnected(provider) {
		return nil
	}
	spec, ok := t.spec(provider)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return t.registry.Connect(ctx, provider, spec)
}

// ConnectAll connects the given providers, continuing past failures.
func (t *ToolSet) ConnectAll(ctx context.Context, providers []string) error {
	var errs []error
	for _, id := range providers {
		if err := t.Ensure(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Call invokes tool on provider, connecting it first if needed.
func (t *ToolSet) Call(ctx context.Context, provider, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	if err := t.Ensure(ctx, provider); err != nil {
		return nil, err
	}
	return t.registry.CallTool(ctx, provider, tool, args)
}

// Owns reports whether name is a qualified backend tool name of a configured
// provider.
func (t *ToolSet) Owns(name string) bool {
	provider, _, ok := SplitToolName(name)
	if !ok {
		return false
	}
	_, known := t.spec(provider)
	return known
}

// Specs lists the tools of every configured provider under qualified names.
// Providers that cannot be reached are logged and skipped.
func (t *ToolSet) Specs(ctx context.Context) []ToolSpec {
	var specs []ToolSpec

	for _, provider := range t.Providers() {
		if err := t.Ensure(ctx, provider); err != nil {
			t.logger.Warn().Err(err).Str("provider_id", provider).Msg("Skipping unavailable tool provider")
			continue
		}

		tools, err := t.registry.ListTools(ctx, provider)
		if err != nil {
			t.logger.Warn().Err(err).Str("provider_id", provider).Msg("Failed to list provider tools")
			continue
		}

		for _, tool := range tools {
			specs = append(specs, ToolSpec{
				Name:        provider + ToolNameSeparator + tool.Name,
				Description: tool.Description,
				InputSchema: toolSchema(tool),
			})
		}
	}

	return specs
}

// SplitToolName splits "provider__tool" into its parts.
func SplitToolName(name string) (provider, tool string, ok bool) {
	provider, tool, ok = strings.Cut(name, ToolNameSeparator)
	if !ok || provider == "" || tool == "" {
		return "", "", false
	}
	return provider, tool, true
}

func toolSchema(tool mcp.Tool) map[string]any {
	if len(tool.RawInputSchema) > 0 {
		return SchemaFromJSON(tool.RawInputSchema)
	}

	properties := tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(tool.InputSchema.Required) > 0 {
		required := make([]any, len(tool.InputSchema.Required))
		for i, name := range tool.InputSchema.Required {
			required[i] = name
		}
		schema["required"] = required
	}
	return schema
}

// ResultText flattens a tool result into text. Non-text content is replaced
// by a placeholder.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}

	var sb strings.Builder
	for _, content := range result.Content {
		switch content := content.(type) {
		case mcp.TextContent:
			sb.WriteString(content.Text)
		case *mcp.TextContent:
			sb.WriteString(content.Text)
		default:
			sb.WriteString("[Non-text content]")
		}
	}
	return sb.String()
}

func newID(prefix string) string {
	id, _ := gonanoid.New()
	return prefix + "_" + id
}
