package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/agui-bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	output, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration saved to: "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var written config.Config
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "echo", written.Agent.Provider)
	assert.True(t, written.MCP.Servers["echo"].Disabled)

	// the written file loads and validates
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShowMasksAPIKey(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"agent": map[string]any{
			"provider": "anthropic",
			"model":    "claude-test",
			"api_key":  "sk-ant-very-secret-key",
		},
	})

	output, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, `"api_key": "sk-a****"`)
	assert.NotContains(t, output, "very-secret")
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, map[string]any{})

		output, err := execute(t, "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration OK")
	})

	t.Run("reports every problem", func(t *testing.T) {
		path := writeConfig(t, map[string]any{
			"agent": map[string]any{"provider": "openai", "model": "gpt-test", "api_key": "bad-key"},
			"mcp": map[string]any{
				"servers": map[string]any{
					"files": map[string]any{"command": "mcp-files", "env": []string{"NOEQUALS"}},
				},
			},
		})

		output, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, output, "invalid OpenAI API key format")
		assert.Contains(t, output, `invalid env entry "NOEQUALS"`)
	})
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "sk-a****", maskSecret("sk-ant-0123456789"))
}
