package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "AGUI_BRIDGE"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file over DefaultConfig. A missing file yields the
// defaults. Environment variables such as AGUI_BRIDGE_AGENT_API_KEY override
// file values.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.MCP.Servers == nil {
		cfg.MCP.Servers = map[string]MCPServerConfig{}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".agui-bridge")
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = filepath.Join(cfg.DataDir, "sessions.db")
	}

	return cfg, nil
}

// bindEnvKeys registers the scalar keys AutomaticEnv should see during
// Unmarshal; viper only consults the environment for keys it knows about.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port", "server.path", "server.sse_retry_ms",
		"server.strict_client_errors", "server.rate_limit_per_minute", "server.shutdown_timeout",
		"agent.provider", "agent.model", "agent.api_key", "agent.base_url", "agent.system_prompt",
		"agent.max_tokens", "agent.temperature", "agent.max_turns", "agent.max_retries", "agent.echo_delay_ms",
		"mcp.call_timeout", "mcp.connect_timeout", "mcp.inherit_env", "mcp.watch_config",
		"sessions.backend", "sessions.dir", "sessions.path", "sessions.max_messages",
		"sessions.ttl", "sessions.cleanup_schedule",
		"logging.level", "logging.file", "logging.console", "logging.pretty", "logging.redaction",
		"tracing.enabled", "tracing.service_name", "tracing.sample_ratio",
		"data_dir",
	} {
		_ = v.BindEnv(key)
	}
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agui-bridge", "config.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
