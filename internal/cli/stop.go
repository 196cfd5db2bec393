package cli

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/harun/agui-bridge/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running bridge",
	Long: `Stop a running AG-UI bridge gracefully.
Sends SIGTERM and waits for open streams to drain, falling back to SIGKILL
after the timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the bridge to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	return stopProcess(cmd.OutOrStdout(), daemon.PIDFilePath(cfg.DataDir), time.Duration(stopTimeout)*time.Second)
}

// stopProcess terminates the process recorded in pidFile, escalating to
// SIGKILL once timeout has passed.
func stopProcess(out io.Writer, pidFile string, timeout time.Duration) error {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("bridge is not running (no PID file at %s)", pidFile)
		}
		return err
	}
	if !daemon.ProcessAlive(pid) {
		os.Remove(pidFile)
		return fmt.Errorf("bridge is not running (removed stale PID file)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	fmt.Fprintf(out, "Stopping bridge (PID %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	// Wait for process to stop with timeout
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			fmt.Fprintln(out, "Bridge stopped successfully")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Force kill if timeout
	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(out, "Bridge killed")
	return nil
}
