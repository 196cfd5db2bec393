package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	})

	t.Run("valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	})

	t.Run("invalid openai key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateEnv(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEnv(nil))
	assert.NoError(t, v.ValidateEnv([]string{"A=1", "B="}))
	assert.Error(t, v.ValidateEnv([]string{"NOEQUALS"}))
	assert.Error(t, v.ValidateEnv([]string{"=value"}))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are clean", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.Provider = "anthropic"
		cfg.Agent.Model = "claude"
		cfg.Agent.APIKey = "wrong-format"
		cfg.MCP.Servers["fs"] = MCPServerConfig{Command: "fs-server", Env: []string{"BROKEN"}}

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 2)
	})
}
