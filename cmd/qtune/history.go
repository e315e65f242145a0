package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/pkg/qtune/config"
	"github.com/jamesainslie/qtune/pkg/qtune/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View validation and snapshot history",
	Long: `View the history of validate and snapshot runs.

Each run is recorded with the outcome for every document it touched.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a specific run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove entries older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().Int("days", 0, "retention in days (default: history.retention_days)")

	historyCmd.AddCommand(historyShowCmd, historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.History, error) {
	h, err := history.New(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, nil
}

// runHistory lists recent runs.
func runHistory(_ *cobra.Command, _ []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}

	entries, err := h.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if outputFormat() == "json" {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'qtune validate' to check tuning documents.")
		return nil
	}

	fmt.Printf("\n%-40s  %-9s  %-14s  %5s  %7s  %6s\n", "ID", "TYPE", "WHEN", "FILES", "INVALID", "ERRORS")
	fmt.Println(strings.Repeat("-", 90))

	for _, entry := range entries {
		fmt.Printf("%-40s  %-9s  %-14s  %5d  %7d  %6d\n",
			truncateString(entry.ID, 40),
			entry.Operation,
			truncateString(humanize.Time(entry.Timestamp), 14),
			entry.Summary.Files,
			entry.Summary.Invalid,
			entry.Summary.Errors,
		)
	}

	fmt.Println(strings.Repeat("-", 90))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Println("Use 'qtune history show <id>' for details on a specific entry.")

	return nil
}

// runHistoryShow displays details of a specific run.
func runHistoryShow(_ *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}

	entry, err := h.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	if outputFormat() == "json" {
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("\nRun Details")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ID:         %s\n", entry.ID)
	fmt.Printf("Timestamp:  %s\n", entry.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Operation:  %s\n", entry.Operation)
	fmt.Printf("Files:      %d (%d valid, %d invalid)\n", entry.Summary.Files, entry.Summary.Valid, entry.Summary.Invalid)
	fmt.Printf("Findings:   %d errors, %d warnings\n", entry.Summary.Errors, entry.Summary.Warnings)

	if len(entry.Files) > 0 {
		fmt.Println("\nFiles:")
		fmt.Println(strings.Repeat("-", 60))
		fmt.Printf("%-7s  %4s  %4s  %s\n", "STATUS", "ERR", "WARN", "PATH")
		fmt.Println(strings.Repeat("-", 60))

		limit := min(len(entry.Files), 50)
		for _, file := range entry.Files[:limit] {
			path := file.Path
			if file.SnapshotID != "" {
				path += "  (" + file.SnapshotID + ")"
			}
			fmt.Printf("%-7s  %4d  %4d  %s\n", validLabel(file.Valid), file.Errors, file.Warnings, path)
		}

		if len(entry.Files) > limit {
			fmt.Printf("\n... and %d more files\n", len(entry.Files)-limit)
		}
	}

	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, _ []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}

	retentionDays := cfg.History.RetentionDays
	if cmd.Flags().Changed("days") {
		retentionDays, _ = cmd.Flags().GetInt("days")
	}
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	removed, err := h.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d entries.", removed)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
