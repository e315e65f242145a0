package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/pkg/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the qtuned daemon",
	Long: `Manage the qtuned daemon.

qtuned watches the configured directories, revalidates tuning documents as
they change and snapshots every new revision. 'qtune watch' and
'qtune validate --daemon' talk to it.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start qtuned in the background",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop qtuned gracefully",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart qtuned",
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()
	if client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon already running")
		return nil
	}

	printVerbose("starting daemon (socket %s)", paths.Socket)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()
	printVerbose("checking PID file: %s", paths.PID)

	if !client.IsDaemonRunning(paths.PID) {
		return errors.New("daemon is not running")
	}

	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	if err := client.RestartDaemon(daemonPaths()); err != nil {
		return err
	}
	printInfo("Daemon restarted")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	paths := daemonPaths()

	if !client.IsDaemonRunning(paths.PID) {
		printInfo("Daemon status: not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	daemonClient, err := client.ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		printInfo("Daemon status: running (but not responding)")
		return nil
	}
	defer func() { _ = daemonClient.Close() }()

	status, err := daemonClient.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get daemon status: %w", err)
	}

	if outputFormat() == "json" {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printInfo("Daemon status: running")
	printInfo("  PID: %d", status.PID)
	printInfo("  Uptime: %s", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	printInfo("  Memory: %s", humanize.IBytes(uint64(max(status.MemoryBytes, 0))))
	printInfo("  Snapshots: %s", humanize.Comma(int64(status.Snapshots)))
	printInfo("  Validations: %s", humanize.Comma(status.Validations))
	printInfo("  Watch clients: %d", status.Subscribers)

	if len(status.WatchedPaths) > 0 {
		printInfo("  Watched paths:")
		for _, p := range status.WatchedPaths {
			printInfo("    - %s", p)
		}
	}

	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
