package cli

import (
	"errors"
	"fmt"

	"github.com/harun/agui-bridge/internal/config"
	"github.com/harun/agui-bridge/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the AG-UI bridge server",
	Long: `Run the AG-UI bridge in the foreground.
The server accepts run requests on the configured path, connects autoconnect
MCP servers, and shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	if problems := config.NewValidator().ValidateConfig(cfg); len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(problems...))
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("bridge is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	daemon.Version = version
	d, err := daemon.New(cfg, configPath, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return d.Wait()
}

// isRunning reports whether pidFile names a live process.
func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
