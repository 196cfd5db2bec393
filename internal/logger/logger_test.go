package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		l, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "bridge.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		zl := l.Zerolog()
		zl.Info().Str("thread_id", "t1").Msg("request started")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"thread_id":"t1"`)
		assert.Contains(t, string(data), "request started")
	})

	t.Run("redaction scrubs file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "bridge.log")

		l, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, l.redactor)

		zl := l.Zerolog()
		zl.Info().Str("key", "sk-ant-REDACTED").Msg("provider configured")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, string(data), "[REDACTED]")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})
}

func TestNewInstallsGlobalLogger(t *testing.T) {
	l, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
}

func TestComponent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bridge.log")
	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	c := l.Component("mcpregistry")
	c.Info().Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"mcpregistry"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}
