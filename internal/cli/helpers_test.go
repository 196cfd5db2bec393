package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args after resetting flag state left
// over from earlier runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, logLevel = "", ""
	configForce = false
	toolsProvider, toolsTimeout = "", 30
	stopTimeout = 30
	resetHelp(rootCmd)

	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func resetHelp(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
	}
	for _, c := range cmd.Commands() {
		resetHelp(c)
	}
}

// writeConfig writes cfg as JSON and returns its path. data_dir defaults to
// a temp directory.
func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()

	dir := t.TempDir()
	if _, ok := cfg["data_dir"]; !ok {
		cfg["data_dir"] = dir
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}
