package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/pkg/client"
	"github.com/jamesainslie/qtune/pkg/qtune/discovery"
	"github.com/jamesainslie/qtune/pkg/qtune/history"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/output"
	"github.com/jamesainslie/qtune/pkg/qtune/resources"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate [files|dirs...]",
	Short: "Validate tuning documents",
	Long: `Validate discovers tuning documents below the given files and directories
(default: the current directory) and checks them against the schema.

The exit status is 1 when any document is invalid.

Examples:
  qtune validate                    # Everything below .
  qtune validate tune.yaml          # One document
  qtune validate -o json models/    # JSON report
  qtune validate --daemon models/   # Validate through qtuned`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().Bool("daemon", false, "validate through qtuned (starts it when daemon.auto_start is set)")
	validateCmd.Flags().Bool("no-history", false, "do not record this run in history")
	validateCmd.Flags().StringSliceP("include", "i", nil, "include patterns (replaces the configured ones)")
	validateCmd.Flags().StringSliceP("exclude", "e", nil, "exclude patterns (replaces the configured ones)")
	validateCmd.Flags().Bool("no-sniff", false, "validate every matching file, not only ones that look like tuning documents")
	rootCmd.AddCommand(validateCmd)
}

// checkFunc validates one document.
type checkFunc func(ctx context.Context, path string) (output.FileResult, error)

func runValidate(cmd *cobra.Command, args []string) error {
	roots := args
	if len(roots) == 0 {
		roots = []string{"."}
	}

	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	pools := resources.Auto(cfg.Workers)
	printVerbose("workers: walk=%d validate=%d queue=%d", pools.WalkWorkers, pools.ValidateWorkers, pools.QueueSize)

	opts := discoveryOptions(cmd)
	opts.Workers = pools.WalkWorkers
	finder, err := discovery.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result := &output.Result{Source: strings.Join(roots, ", ")}

	paths, warnings := discover(ctx, finder, roots)
	result.Warnings = append(result.Warnings, warnings...)
	printVerbose("discovered %d documents", len(paths))

	check := localCheck(validate.New(reg))
	if useDaemon, _ := cmd.Flags().GetBool("daemon"); useDaemon {
		c, err := connectDaemon()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		check = daemonCheck(c)
		result.DaemonUp = true
		result.Source = "daemon: " + result.Source
	}

	files, warnings := validateAll(ctx, paths, pools, check)
	result.Files = files
	result.Warnings = append(result.Warnings, warnings...)
	result.Interrupted = ctx.Err() != nil
	result.Duration = time.Since(start)
	result.SortFiles()

	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
		recordValidate(result)
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("formatting report: %w", err)
	}
	fmt.Print(buf.String())

	if result.Interrupted {
		return errors.New("interrupted")
	}
	if !result.Valid() {
		return errInvalidDocuments
	}
	return nil
}

// discoveryOptions merges the validate flags over the configuration.
func discoveryOptions(cmd *cobra.Command) discovery.Options {
	opts := discovery.Options{Include: cfg.Include, Exclude: cfg.Exclude, Sniff: cfg.Sniff}
	if cmd.Flags().Changed("include") {
		opts.Include, _ = cmd.Flags().GetStringSlice("include")
	}
	if cmd.Flags().Changed("exclude") {
		opts.Exclude, _ = cmd.Flags().GetStringSlice("exclude")
	}
	if noSniff, _ := cmd.Flags().GetBool("no-sniff"); noSniff {
		opts.Sniff = false
	}
	return opts
}

// discover finds documents root by root so that one unreadable root only
// produces a warning.
func discover(ctx context.Context, finder *discovery.Finder, roots []string) ([]string, []string) {
	var (
		paths    []string
		warnings []string
		seen     = make(map[string]bool)
	)
	for _, root := range roots {
		found, err := finder.Find(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			warnings = append(warnings, err.Error())
			continue
		}
		for _, p := range found {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths, warnings
}

// validateAll runs check over paths with pools.ValidateWorkers workers.
// Documents not yet started when ctx ends are skipped.
func validateAll(ctx context.Context, paths []string, pools resources.Pools, check checkFunc) ([]output.FileResult, []string) {
	type outcome struct {
		path string
		file output.FileResult
		err  error
	}

	jobs := make(chan string, max(pools.QueueSize, 1))
	results := make(chan outcome)

	workers := min(max(pools.ValidateWorkers, 1), max(len(paths), 1))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					continue
				}
				file, err := check(ctx, path)
				results <- outcome{path: path, file: file, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range paths {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	files := make([]output.FileResult, 0, len(paths))
	var warnings []string
	for o := range results {
		if o.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", o.path, o.err))
			continue
		}
		files = append(files, o.file)
	}
	return files, warnings
}

// localCheck validates in process.
func localCheck(v *validate.Validator) checkFunc {
	return func(_ context.Context, path string) (output.FileResult, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return output.FileResult{}, err
		}
		return output.NewFileResult(v.ValidateBytes(path, data), int64(len(data))), nil
	}
}

// daemonCheck validates through qtuned, which also snapshots changed
// documents.
func daemonCheck(c *client.Client) checkFunc {
	return func(ctx context.Context, path string) (output.FileResult, error) {
		resp, err := c.Validate(ctx, path)
		if err != nil {
			return output.FileResult{}, err
		}
		if resp.Report == nil {
			return output.FileResult{}, errors.New("daemon returned no report")
		}
		return output.NewFileResult(resp.Report, resp.Size), nil
	}
}

// connectDaemon connects to qtuned, starting it first when auto_start is
// configured.
func connectDaemon() (*client.Client, error) {
	paths := daemonPaths()
	if !client.IsDaemonRunning(paths.PID) {
		if !cfg.Daemon.AutoStart {
			return nil, errors.New("daemon is not running (start it with 'qtune daemon start')")
		}
		printVerbose("starting daemon")
		if err := client.StartDaemon(paths); err != nil {
			return nil, fmt.Errorf("starting daemon: %w", err)
		}
	}
	return client.Connect(paths.Socket)
}

// recordValidate appends the run to history. Failures are logged, not
// returned.
func recordValidate(result *output.Result) {
	if !cfg.History.Enabled || len(result.Files) == 0 {
		return
	}
	h, err := history.New(cfg.History.Path)
	if err != nil {
		logging.Get("cli").Warn("history unavailable", "error", err)
		return
	}
	records := make([]history.FileRecord, 0, len(result.Files))
	for _, f := range result.Files {
		records = append(records, history.FileRecord{
			Path:     f.Path,
			SHA256:   f.SHA256,
			Valid:    f.Valid,
			Errors:   f.Errors,
			Warnings: f.Warnings,
		})
	}
	entry, err := h.LogValidate(records)
	if err != nil {
		logging.Get("cli").Warn("recording history failed", "error", err)
		return
	}
	printVerbose("recorded history entry %s", entry.ID)
}
