package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config represents the bridge configuration
type Config struct {
	// HTTP surface
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Agent construction
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// MCP tool providers
	MCP MCPConfig `json:"mcp" mapstructure:"mcp"`

	// Session store
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	Path               string `json:"path" mapstructure:"path"`
	SSERetryMs         int    `json:"sse_retry_ms" mapstructure:"sse_retry_ms"`
	StrictClientErrors bool   `json:"strict_client_errors" mapstructure:"strict_client_errors"`   // 400 instead of 500 for bad input
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // per client IP, 0 disables
	ShutdownTimeout    int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`           // seconds
}

// AgentConfig selects and tunes the agent built for each run
type AgentConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // echo, anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"` // optional API endpoint override
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTurns     int     `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
	EchoDelayMs  int     `json:"echo_delay_ms" mapstructure:"echo_delay_ms"` // pause between echoed words
}

// MCPConfig holds tool provider configuration
type MCPConfig struct {
	Servers        map[string]MCPServerConfig `json:"servers" mapstructure:"servers"`
	CallTimeout    int                        `json:"call_timeout" mapstructure:"call_timeout"`       // seconds
	ConnectTimeout int                        `json:"connect_timeout" mapstructure:"connect_timeout"` // seconds, bounds launch and initialize
	InheritEnv     bool                       `json:"inherit_env" mapstructure:"inherit_env"`
	WatchConfig    bool                       `json:"watch_config" mapstructure:"watch_config"` // reload servers when the file changes
}

// MCPServerConfig describes how to launch one stdio tool provider
type MCPServerConfig struct {
	Command     string   `json:"command" mapstructure:"command"`
	Args        []string `json:"args" mapstructure:"args"`
	Env         []string `json:"env" mapstructure:"env"` // KEY=VALUE
	Autoconnect bool     `json:"autoconnect" mapstructure:"autoconnect"`
	Disabled    bool     `json:"disabled" mapstructure:"disabled"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Backend         string `json:"backend" mapstructure:"backend"` // memory, file, sqlite
	Dir             string `json:"dir" mapstructure:"dir"`
	Path            string `json:"path" mapstructure:"path"`
	MaxMessages     int    `json:"max_messages" mapstructure:"max_messages"`
	TTL             int    `json:"ttl" mapstructure:"ttl"` // hours, 0 disables cleanup
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of runs traced
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			Path:            "/agent",
			SSERetryMs:      3000,
			ShutdownTimeout: 30,
		},
		Agent: AgentConfig{
			Provider:    "echo",
			MaxTokens:   4096,
			Temperature: 0.7,
			MaxTurns:    8,
			MaxRetries:  3,
		},
		MCP: MCPConfig{
			Servers:        map[string]MCPServerConfig{},
			CallTimeout:    30,
			ConnectTimeout: 30,
			InheritEnv:     true,
		},
		Sessions: SessionsConfig{
			Backend:         "memory",
			MaxMessages:     500,
			TTL:             24 * 7,
			CleanupSchedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "agui-bridge",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SSERetry returns the client reconnect interval advertised on each stream.
func (c *Config) SSERetry() time.Duration {
	return time.Duration(c.Server.SSERetryMs) * time.Millisecond
}

// CallTimeout returns the per tool call deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.MCP.CallTimeout) * time.Second
}

// ConnectTimeout returns the deadline for launching a provider and completing
// its initialize handshake.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.MCP.ConnectTimeout) * time.Second
}

// EchoDelay returns the pause the echo agent takes between words.
func (c *Config) EchoDelay() time.Duration {
	return time.Duration(c.Agent.EchoDelayMs) * time.Millisecond
}

// ShutdownTimeout returns how long the server waits for open streams on stop.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// SessionTTL returns the idle age after which sessions are deleted.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTL) * time.Hour
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return fmt.Errorf("server path must start with '/': %q", c.Server.Path)
	}
	if c.Server.SSERetryMs < 0 {
		return fmt.Errorf("server sse_retry_ms must be >= 0")
	}

	switch c.Agent.Provider {
	case "echo":
	case "anthropic", "openai":
		if c.Agent.APIKey == "" {
			return fmt.Errorf("agent provider %s requires api_key", c.Agent.Provider)
		}
		if c.Agent.Model == "" {
			return fmt.Errorf("agent provider %s requires model", c.Agent.Provider)
		}
	default:
		return fmt.Errorf("invalid agent provider %q (must be: echo, anthropic, openai)", c.Agent.Provider)
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent max_turns must be positive, got %d", c.Agent.MaxTurns)
	}

	for id, srv := range c.MCP.Servers {
		if id == "" {
			return fmt.Errorf("mcp server id cannot be empty")
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp server %s: command is required", id)
		}
	}
	if c.MCP.CallTimeout < 0 {
		return fmt.Errorf("mcp call_timeout must be >= 0")
	}
	if c.MCP.ConnectTimeout < 0 {
		return fmt.Errorf("mcp connect_timeout must be >= 0")
	}

	switch c.Sessions.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("invalid sessions backend %q (must be: memory, file, sqlite)", c.Sessions.Backend)
	}
	if c.Sessions.TTL > 0 && c.Sessions.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Sessions.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid sessions cleanup_schedule: %w", err)
		}
	}

	return NewValidator().ValidateLogLevel(c.Logging.Level)
}
