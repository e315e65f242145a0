// Command qtuned is the qtune daemon. It watches tuning documents,
// revalidates and snapshots them on change and serves the qtune gRPC API on
// a unix socket.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/pkg/daemon"
	"github.com/jamesainslie/qtune/pkg/qtune/config"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

var logger = logging.Get("qtuned")

// options are the command line overrides of the daemon section.
type options struct {
	config string
	socket string
	pid    string
	db     string
	watch  []string

	// debounce in milliseconds; negative keeps the configured value.
	debounce int
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "qtuned",
		Short:         "qtune daemon: watch, validate and snapshot tuning documents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.config, "config", "", "config file (default: ~/.config/qtune/config.yaml)")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "unix socket path (default: daemon.socket_path)")
	cmd.Flags().StringVar(&opts.pid, "pid", "", "PID file path (default: daemon.pid_path)")
	cmd.Flags().StringVar(&opts.db, "db", "", "snapshot database directory (default: snapshots.path)")
	cmd.Flags().StringSliceVar(&opts.watch, "watch", nil, "directories to watch (default: daemon.watch)")
	cmd.Flags().IntVar(&opts.debounce, "debounce", -1, "change debounce in milliseconds (default: daemon.debounce_ms)")

	err := cmd.Execute()
	_ = logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtuned: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	if err := logging.Init(lc); err != nil {
		fmt.Fprintf(os.Stderr, "qtuned: logging disabled: %v\n", err)
	}

	socketPath := cfg.Daemon.SocketPath
	pidPath := cfg.Daemon.PIDPath
	statusPath := daemon.StatusPath(socketPath)

	if err := daemon.RecoverFromStaleDaemon(pidPath, socketPath, cfg.Snapshots.Path); err != nil {
		return err
	}

	reg, err := cfg.Registry()
	if err != nil {
		_ = daemon.WriteStatusError(statusPath, err)
		return err
	}

	srv, err := daemon.NewServer(daemon.Config{
		SocketPath: socketPath,
		DBPath:     cfg.Snapshots.Path,
		Watch:      cfg.Daemon.Watch,
		Debounce:   time.Duration(cfg.Daemon.Debounce) * time.Millisecond,
		Include:    cfg.Include,
		Exclude:    cfg.Exclude,
		Sniff:      cfg.Sniff,
		Registry:   reg,
	})
	if err != nil {
		_ = daemon.WriteStatusError(statusPath, err)
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := daemon.WritePIDFile(pidPath); err != nil {
		_ = srv.Close()
		_ = daemon.WriteStatusError(statusPath, err)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := daemon.RemovePIDFile(pidPath); err != nil {
			logger.Warn("failed to remove PID file", "error", err)
		}
		_ = daemon.RemoveStatus(statusPath)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			if err := srv.Close(); err != nil {
				logger.Warn("error during shutdown", "error", err)
			}
		case <-srv.Done():
		}
	}()

	if err := daemon.WriteStatusReady(statusPath, socketPath); err != nil {
		logger.Warn("failed to write status file", "error", err)
	}
	logger.Info("qtuned starting", "socket", socketPath, "pid", os.Getpid(), "watch", cfg.Daemon.Watch)

	serveErr := srv.Serve()
	closeErr := srv.Close()
	<-srv.Done()
	return errors.Join(serveErr, closeErr)
}

// applyOverrides applies the command line flags over the configuration.
func applyOverrides(cfg *config.Config, opts options) {
	if opts.socket != "" {
		cfg.Daemon.SocketPath = opts.socket
	}
	if opts.pid != "" {
		cfg.Daemon.PIDPath = opts.pid
	}
	if opts.db != "" {
		cfg.Snapshots.Path = opts.db
	}
	if len(opts.watch) > 0 {
		cfg.Daemon.Watch = make([]string, 0, len(opts.watch))
		for _, w := range opts.watch {
			if abs, err := filepath.Abs(w); err == nil {
				w = abs
			}
			cfg.Daemon.Watch = append(cfg.Daemon.Watch, w)
		}
	}
	if opts.debounce >= 0 {
		cfg.Daemon.Debounce = opts.debounce
	}
}
