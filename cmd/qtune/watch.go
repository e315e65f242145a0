package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/cmd/qtune/tui"
	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/client"
	"github.com/jamesainslie/qtune/pkg/daemon/watcher"
	"github.com/jamesainslie/qtune/pkg/qtune/discovery"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Live view of the validation state of a directory",
	Long: `Watch shows every tuning document below dir (default: .) and revalidates
documents as they change.

Events come from qtuned when it is running, which also snapshots every
change. Otherwise documents are watched in process.

Keys: ↑/↓ move, enter details, i invalid only, l logs, q quit.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationTUI: "true"},
	RunE:        runWatch,
}

func init() {
	watchCmd.Flags().Bool("local", false, "watch in process even when qtuned is running")
	watchCmd.Flags().Bool("daemon", false, "require qtuned (starts it when daemon.auto_start is set)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	local, _ := cmd.Flags().GetBool("local")
	requireDaemon, _ := cmd.Flags().GetBool("daemon")
	if local && requireDaemon {
		return errors.New("--local and --daemon are mutually exclusive")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	opts := tui.Options{Root: root}

	useDaemon := !local && (requireDaemon || client.IsDaemonRunning(cfg.Daemon.PIDPath))
	if useDaemon {
		c, err := connectDaemon()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		opts.Events, err = c.Watch(ctx, root)
		if err != nil {
			return err
		}
		opts.Source = "daemon"
	} else {
		opts.Events, err = watchLocal(ctx, root)
		if err != nil {
			return err
		}
		opts.Source = "local"
	}

	logs := logging.Subscribe()
	defer logging.Unsubscribe(logs)
	opts.Logs = logs

	logging.Get("cli").Info("watch started", "root", root, "source", opts.Source)
	return tui.Run(opts)
}

// watchLocal validates the documents under root and then revalidates them
// as they change, without qtuned. The channel closes when ctx ends.
func watchLocal(ctx context.Context, root string) (<-chan qtunev1.WatchEvent, error) {
	finder, err := discovery.New(discovery.Options{Include: cfg.Include, Exclude: cfg.Exclude, Sniff: cfg.Sniff})
	if err != nil {
		return nil, err
	}
	w, err := watcher.New(watcher.Options{
		Debounce: time.Duration(cfg.Daemon.Debounce) * time.Millisecond,
		Match: func(path string) bool {
			return finder.Match(filepath.Base(path), filepath.ToSlash(path))
		},
		SkipDir: func(path string) bool {
			return finder.Excluded(filepath.Base(path), filepath.ToSlash(path))
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(root); err != nil {
		_ = w.Close()
		return nil, err
	}

	v := validate.New(reg)
	events := make(chan qtunev1.WatchEvent, 64)
	send := func(ev qtunev1.WatchEvent) {
		ev.Time = time.Now().UTC()
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	check := func(path string) {
		report, err := v.ValidateFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				send(qtunev1.WatchEvent{Type: qtunev1.EventRemoved, Path: path})
				return
			}
			logging.Get("cli").Warn("validation failed", "path", path, "error", err)
			return
		}
		send(qtunev1.WatchEvent{Type: qtunev1.EventValidated, Path: path, Report: report})
	}

	go func() {
		defer close(events)
		defer func() { _ = w.Close() }()

		paths, err := finder.Find(ctx, root)
		if err != nil {
			logging.Get("cli").Warn("initial discovery failed", "root", root, "error", err)
		}
		for _, p := range paths {
			check(p)
		}

		w.Run(ctx, func(change watcher.Change) {
			switch change.Kind {
			case watcher.ChangeRemove:
				send(qtunev1.WatchEvent{Type: qtunev1.EventRemoved, Path: change.Path})
			default:
				if cfg.Sniff && !discovery.SniffFile(change.Path) {
					if _, err := os.Stat(change.Path); os.IsNotExist(err) {
						send(qtunev1.WatchEvent{Type: qtunev1.EventRemoved, Path: change.Path})
					}
					return
				}
				check(change.Path)
			}
		})
	}()
	return events, nil
}
