package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

func newTestLogViewer(entries int) *LogViewerState {
	s := &LogViewerState{
		Buffer:      logging.NewLogBuffer(logPanelSize),
		FilterLevel: logging.LevelDebug,
		Follow:      true,
	}
	levels := []logging.Level{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError}
	for i := 0; i < entries; i++ {
		s.AddEntry(logging.LogEntry{
			Time:      time.Date(2026, 1, 2, 15, 4, i, 0, time.UTC),
			Level:     levels[i%len(levels)],
			Component: "watcher",
			Message:   fmt.Sprintf("message %d", i),
		})
	}
	return s
}

func TestClampLogScroll(t *testing.T) {
	tests := []struct {
		name         string
		offset       int
		totalEntries int
		visibleRows  int
		want         int
	}{
		{"fits on screen", 5, 3, 10, 0},
		{"negative offset", -2, 20, 5, 0},
		{"within bounds", 7, 20, 5, 7},
		{"past the end", 30, 20, 5, 15},
		{"exactly at max", 15, 20, 5, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLogScroll(tt.offset, tt.totalEntries, tt.visibleRows); got != tt.want {
				t.Errorf("clampLogScroll(%d, %d, %d) = %d, want %d",
					tt.offset, tt.totalEntries, tt.visibleRows, got, tt.want)
			}
		})
	}
}

func TestLogLevelChar(t *testing.T) {
	tests := []struct {
		level logging.Level
		want  string
	}{
		{logging.LevelDebug, "D"},
		{logging.LevelInfo, "I"},
		{logging.LevelWarn, "W"},
		{logging.LevelError, "E"},
		{logging.Level(99), "?"},
	}
	for _, tt := range tests {
		if got := logLevelChar(tt.level); got != tt.want {
			t.Errorf("logLevelChar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLogViewerFilter(t *testing.T) {
	s := newTestLogViewer(8)

	if got := len(s.Entries()); got != 8 {
		t.Fatalf("unfiltered entries = %d, want 8", got)
	}

	s.SetFilterLevel(logging.LevelWarn)
	entries := s.Entries()
	if len(entries) != 4 {
		t.Fatalf("entries at warn and above = %d, want 4", len(entries))
	}
	for _, e := range entries {
		if e.Level < logging.LevelWarn {
			t.Errorf("entry %q below filter level", e.Message)
		}
	}
	if entries[0].Message != "message 2" {
		t.Errorf("first entry = %q, want oldest first", entries[0].Message)
	}
}

func TestLogViewerScrolling(t *testing.T) {
	s := newTestLogViewer(10)
	const rows = 4

	if got := s.offset(rows); got != 6 {
		t.Fatalf("following offset = %d, want 6", got)
	}

	s.ScrollUp(rows)
	if s.Follow {
		t.Error("scrolling up should stop following")
	}
	if s.ScrollOffset != 5 {
		t.Errorf("offset after scroll up = %d, want 5", s.ScrollOffset)
	}

	// New entries do not move a pinned view.
	s.AddEntry(logging.LogEntry{Level: logging.LevelInfo, Message: "late"})
	if got := s.offset(rows); got != 5 {
		t.Errorf("pinned offset = %d, want 5", got)
	}

	s.ScrollDown(rows)
	s.ScrollDown(rows)
	if !s.Follow {
		t.Error("scrolling to the end should resume following")
	}
	if got := s.offset(rows); got != 7 {
		t.Errorf("offset at end = %d, want 7", got)
	}

	s.SetFilterLevel(logging.LevelError)
	if s.ScrollOffset != 0 || !s.Follow {
		t.Error("changing the filter should reset scrolling")
	}
}

func TestLogViewerView(t *testing.T) {
	s := newTestLogViewer(3)
	s.Toggle()
	if !s.Open {
		t.Fatal("Toggle should open the pane")
	}

	view := s.View(100, 8)
	if !strings.Contains(view, "Logs [debug]") {
		t.Errorf("view missing title: %q", view)
	}
	for i := 0; i < 3; i++ {
		if !strings.Contains(view, fmt.Sprintf("message %d", i)) {
			t.Errorf("view missing message %d", i)
		}
	}
	if s.View(100, 2) != "" {
		t.Error("a pane shorter than three lines should render empty")
	}
}

func TestRenderLogEntryTruncates(t *testing.T) {
	entry := logging.LogEntry{
		Time:      time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:     logging.LevelWarn,
		Component: "a-very-long-component",
		Message:   strings.Repeat("x", 200),
		Fields:    "path=/tmp/tune.yaml",
	}

	line := renderLogEntry(entry, 60)
	if !strings.Contains(line, "15:04:05") {
		t.Errorf("missing timestamp: %q", line)
	}
	if !strings.Contains(line, "a-very-lon") || strings.Contains(line, "a-very-long") {
		t.Errorf("component should be cut to ten characters: %q", line)
	}
	if !strings.HasSuffix(line, "...") {
		t.Errorf("long message should be truncated: %q", line)
	}
}
