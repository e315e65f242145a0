package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/client"
	"github.com/jamesainslie/qtune/pkg/daemon"
	"github.com/jamesainslie/qtune/pkg/daemon/store"
	"github.com/jamesainslie/qtune/pkg/qtune/history"
	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// snapshotFileTime names exported snapshot files.
const snapshotFileTime = "20060102-150405"

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage configuration snapshots",
	Long: `Snapshots record the effective configuration of a document each time its
content changes. When qtuned is running it owns the snapshot store and
list, show and save go through it.`,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <file>...",
	Short: "Snapshot documents whose content changed",
	Long: `Save validates each document and stores a snapshot when its content differs
from the latest one. When the document sets snapshot.path, the effective
configuration is also written there as <name>-<timestamp>.yaml.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSnapshotSave,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "List snapshots, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshotList,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the effective configuration stored in a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

var snapshotRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete snapshots",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSnapshotRm,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the newest snapshots of every document",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPrune,
}

func init() {
	snapshotListCmd.Flags().IntP("limit", "n", 20, "maximum number of snapshots to show (0 = all)")
	snapshotPruneCmd.Flags().Int("keep", 0, "snapshots to keep per document (default: snapshots.keep)")

	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotListCmd, snapshotShowCmd, snapshotRmCmd, snapshotPruneCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// errStoreInUse is returned by commands that need exclusive access to the
// snapshot store while qtuned holds it.
var errStoreInUse = errors.New("snapshot store is in use by qtuned; run 'qtune daemon stop' first")

// snapshotSource reads snapshots from the daemon or straight from the store.
type snapshotSource interface {
	List(ctx context.Context, path string, limit int) ([]qtunev1.Snapshot, error)
	Get(ctx context.Context, id string) (*qtunev1.Snapshot, error)
	Close() error
}

type daemonSnapshots struct {
	c *client.Client
}

func (d daemonSnapshots) List(ctx context.Context, path string, limit int) ([]qtunev1.Snapshot, error) {
	return d.c.ListSnapshots(ctx, qtunev1.ListSnapshotsRequest{Path: path, Limit: limit})
}

func (d daemonSnapshots) Get(ctx context.Context, id string) (*qtunev1.Snapshot, error) {
	return d.c.Snapshot(ctx, id)
}

func (d daemonSnapshots) Close() error { return d.c.Close() }

type storeSnapshots struct {
	st *store.Store
}

func (s storeSnapshots) List(_ context.Context, path string, limit int) ([]qtunev1.Snapshot, error) {
	var (
		snaps []*store.Snapshot
		err   error
	)
	if path != "" {
		snaps, err = s.st.ListByPath(path)
		if err == nil && limit > 0 && len(snaps) > limit {
			snaps = snaps[:limit]
		}
	} else {
		snaps, err = s.st.List(limit)
	}
	if err != nil {
		return nil, err
	}
	out := make([]qtunev1.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		item := toAPISnapshot(snap)
		item.Effective = ""
		out = append(out, item)
	}
	return out, nil
}

func (s storeSnapshots) Get(_ context.Context, id string) (*qtunev1.Snapshot, error) {
	snap, err := s.st.Get(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	out := toAPISnapshot(snap)
	return &out, nil
}

func (s storeSnapshots) Close() error { return s.st.Close() }

func toAPISnapshot(snap *store.Snapshot) qtunev1.Snapshot {
	return qtunev1.Snapshot{
		ID:        snap.ID,
		Path:      snap.Path,
		SHA256:    snap.SHA256,
		Created:   snap.Created,
		Valid:     snap.Valid,
		Errors:    snap.Errors,
		Warnings:  snap.Warnings,
		Effective: snap.Effective,
	}
}

// openSnapshots prefers a running daemon and falls back to the store.
func openSnapshots() (snapshotSource, error) {
	paths := daemonPaths()
	if client.IsDaemonRunning(paths.PID) {
		c, err := client.Connect(paths.Socket)
		if err == nil {
			return daemonSnapshots{c: c}, nil
		}
		printVerbose("daemon unreachable, opening store: %v", err)
	}
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	return storeSnapshots{st: st}, nil
}

// openStore opens the snapshot store for exclusive use.
func openStore() (*store.Store, error) {
	if client.IsDaemonRunning(cfg.Daemon.PIDPath) {
		return nil, errStoreInUse
	}
	if err := os.MkdirAll(cfg.Snapshots.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot store directory: %w", err)
	}
	st, err := store.Open(cfg.Snapshots.Path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	if _, err := st.Migrate(context.Background(), nil); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrating snapshot store: %w", err)
	}
	return st, nil
}

// saveFunc stores a snapshot of one document and returns its id, or ""
// when the content is unchanged.
type saveFunc func(ctx context.Context, path string, data []byte, report *validate.Report) (string, error)

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	save, closeFn, err := snapshotSaver()
	if err != nil {
		return err
	}
	defer closeFn()

	v := validate.New(reg)
	records := make([]history.FileRecord, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		report := v.ValidateBytes(path, data)

		id, err := save(ctx, path, data, report)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		if id == "" {
			printInfo("%s unchanged", arg)
		} else {
			printInfo("%s saved as %s", arg, id)
		}

		if exported, err := exportSnapshot(path, data, time.Now()); err != nil {
			printError("%s: exporting snapshot: %v", arg, err)
		} else if exported != "" {
			printVerbose("wrote %s", exported)
		}

		records = append(records, history.FileRecord{
			Path:       path,
			SHA256:     report.SHA256,
			Valid:      report.Valid(),
			Errors:     report.Count(validate.SeverityError),
			Warnings:   report.Count(validate.SeverityWarning),
			SnapshotID: id,
		})
	}

	if cfg.History.Enabled {
		if h, err := history.New(cfg.History.Path); err == nil {
			_, _ = h.LogSnapshot(records)
		}
	}
	return nil
}

// snapshotSaver saves through the daemon when it runs, so that its store
// lock is respected, and through the store otherwise.
func snapshotSaver() (saveFunc, func(), error) {
	paths := daemonPaths()
	if client.IsDaemonRunning(paths.PID) {
		c, err := client.Connect(paths.Socket)
		if err != nil {
			return nil, nil, err
		}
		save := func(ctx context.Context, path string, _ []byte, _ *validate.Report) (string, error) {
			resp, err := c.Validate(ctx, path)
			if err != nil {
				return "", err
			}
			return resp.SnapshotID, nil
		}
		return save, func() { _ = c.Close() }, nil
	}

	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	save := func(_ context.Context, path string, data []byte, report *validate.Report) (string, error) {
		return daemon.SaveSnapshot(st, path, data, report)
	}
	return save, func() { _ = st.Close() }, nil
}

// exportSnapshot writes the effective configuration into the directory
// named by the document's snapshot.path. A relative directory is resolved
// against the document. It returns "" when snapshot.path is unset.
func exportSnapshot(path string, data []byte, now time.Time) (string, error) {
	doc, err := loader.Parse(data)
	if err != nil || doc.Config.Snapshot == nil || doc.Config.Snapshot.Path == "" {
		return "", nil
	}
	dir := doc.Config.Snapshot.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}

	effective, err := daemon.EffectiveYAML(data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", name, now.Format(snapshotFileTime)))
	if err := os.WriteFile(out, effective, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", limit)
	}
	var path string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		path = abs
	}

	src, err := openSnapshots()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	snaps, err := src.List(cmd.Context(), path, limit)
	if err != nil {
		return err
	}

	if outputFormat() == "json" {
		data, err := json.MarshalIndent(snaps, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(snaps) == 0 {
		printInfo("No snapshots found.")
		return nil
	}

	fmt.Printf("%-36s  %-14s  %-7s  %4s  %4s  %s\n", "ID", "CREATED", "STATUS", "ERR", "WARN", "PATH")
	fmt.Println(strings.Repeat("-", 100))
	for _, s := range snaps {
		fmt.Printf("%-36s  %-14s  %-7s  %4d  %4d  %s\n",
			s.ID,
			truncateString(humanize.Time(s.Created), 14),
			validLabel(s.Valid),
			s.Errors,
			s.Warnings,
			s.Path)
	}
	return nil
}

func validLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	src, err := openSnapshots()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	snap, err := src.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if outputFormat() == "json" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if !getQuiet() {
		fmt.Printf("# snapshot %s\n", snap.ID)
		fmt.Printf("# path:    %s\n", snap.Path)
		fmt.Printf("# created: %s (%s)\n", snap.Created.Local().Format(time.RFC3339), humanize.Time(snap.Created))
		fmt.Printf("# status:  %s, %d errors, %d warnings\n", validLabel(snap.Valid), snap.Errors, snap.Warnings)
	}
	fmt.Print(snap.Effective)
	return nil
}

func runSnapshotRm(_ *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var errs []error
	for _, id := range args {
		if err := st.Delete(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		printInfo("Deleted %s", id)
	}
	return errors.Join(errs...)
}

func runSnapshotPrune(cmd *cobra.Command, _ []string) error {
	keep := cfg.Snapshots.Keep
	if cmd.Flags().Changed("keep") {
		keep, _ = cmd.Flags().GetInt("keep")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	removed, err := st.Prune(keep)
	if err != nil {
		return err
	}
	printInfo("Pruned %d snapshots (keeping %d per document)", removed, keep)
	return nil
}
