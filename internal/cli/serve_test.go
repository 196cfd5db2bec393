package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/harun/agui-bridge/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasCommand("serve"), "serve command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "serve", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Run the AG-UI bridge in the foreground")
		assert.Contains(t, output, "start", "start is an alias")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := writeConfig(t, map[string]any{
			"agent": map[string]any{"provider": "anthropic"},
		})

		_, err := execute(t, "serve", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "requires api_key")
	})

	t.Run("already running", func(t *testing.T) {
		dataDir := t.TempDir()
		path := writeConfig(t, map[string]any{"data_dir": dataDir})
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0644))

		_, err := execute(t, "serve", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})
}

func TestIsRunning(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("no pid file", func(t *testing.T) {
		assert.False(t, isRunning(filepath.Join(tmpDir, "nonexistent.pid")))
	})

	t.Run("invalid pid file", func(t *testing.T) {
		pidFile := filepath.Join(tmpDir, "invalid.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("invalid"), 0644))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("live process", func(t *testing.T) {
		pidFile := filepath.Join(tmpDir, "live.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))
		assert.True(t, isRunning(pidFile))
	})
}
