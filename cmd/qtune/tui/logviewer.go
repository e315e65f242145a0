package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

// logPanelSize is the number of entries the panel keeps.
const logPanelSize = 200

// clampLogScroll ensures the scroll offset stays within valid bounds.
func clampLogScroll(offset, totalEntries, visibleRows int) int {
	if totalEntries <= visibleRows {
		return 0
	}
	maxOffset := totalEntries - visibleRows
	if offset < 0 {
		return 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

// logLevelStyle returns the style for a log level.
func logLevelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return logDebugStyle
	case logging.LevelWarn:
		return logWarnStyle
	case logging.LevelError:
		return logErrorStyle
	default:
		return logInfoStyle
	}
}

// logLevelChar returns a single character for the log level.
func logLevelChar(level logging.Level) string {
	switch level {
	case logging.LevelDebug:
		return "D"
	case logging.LevelInfo:
		return "I"
	case logging.LevelWarn:
		return "W"
	case logging.LevelError:
		return "E"
	default:
		return "?"
	}
}

// LogViewerState holds the state of the log pane.
type LogViewerState struct {
	Open        bool
	Buffer      *logging.LogBuffer
	FilterLevel logging.Level

	// ScrollOffset is the first visible entry. Follow keeps the newest
	// entries in view as they arrive.
	ScrollOffset int
	Follow       bool
}

// NewLogViewerState creates a closed log viewer seeded with the entries
// already held by the logging ring buffer.
func NewLogViewerState() *LogViewerState {
	s := &LogViewerState{
		Buffer:      logging.NewLogBuffer(logPanelSize),
		FilterLevel: logging.LevelDebug,
		Follow:      true,
	}
	if global := logging.Buffer(); global != nil {
		for _, e := range global.Last(logPanelSize, logging.LevelDebug) {
			s.Buffer.Add(e)
		}
	}
	return s
}

// Toggle opens or closes the pane.
func (s *LogViewerState) Toggle() {
	s.Open = !s.Open
}

// SetFilterLevel shows only entries at or above level.
func (s *LogViewerState) SetFilterLevel(level logging.Level) {
	s.FilterLevel = level
	s.ScrollOffset = 0
	s.Follow = true
}

// AddEntry appends an entry.
func (s *LogViewerState) AddEntry(entry logging.LogEntry) {
	s.Buffer.Add(entry)
}

// Entries returns the entries passing the filter, oldest first.
func (s *LogViewerState) Entries() []logging.LogEntry {
	return s.Buffer.Last(0, s.FilterLevel)
}

// ScrollUp scrolls up by one line and stops following.
func (s *LogViewerState) ScrollUp(visibleRows int) {
	s.ScrollOffset = clampLogScroll(s.offset(visibleRows)-1, len(s.Entries()), visibleRows)
	s.Follow = false
}

// ScrollDown scrolls down by one line. Reaching the end resumes following.
func (s *LogViewerState) ScrollDown(visibleRows int) {
	total := len(s.Entries())
	s.ScrollOffset = clampLogScroll(s.offset(visibleRows)+1, total, visibleRows)
	s.Follow = s.ScrollOffset >= total-visibleRows
}

// offset is the effective first visible entry.
func (s *LogViewerState) offset(visibleRows int) int {
	total := len(s.Entries())
	if s.Follow {
		return clampLogScroll(total-visibleRows, total, visibleRows)
	}
	return clampLogScroll(s.ScrollOffset, total, visibleRows)
}

// View renders the pane in width by height cells.
func (s *LogViewerState) View(width, height int) string {
	if height < 3 {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf(" Logs [%s] ", s.FilterLevel)
	logTitleStyle := lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	b.WriteString(logTitleStyle.Render(title) + mutedTextStyle.Render("[1-4] filter  [l] close"))
	b.WriteString("\n")
	b.WriteString(renderDivider(width))
	b.WriteString("\n")

	visibleRows := max(height-2, 1)
	entries := s.Entries()
	offset := s.offset(visibleRows)
	end := min(offset+visibleRows, len(entries))

	rows := 0
	if offset < end {
		for _, entry := range entries[offset:end] {
			b.WriteString(renderLogEntry(entry, width))
			b.WriteString("\n")
			rows++
		}
	}
	for ; rows < visibleRows; rows++ {
		b.WriteString("\n")
	}

	if len(entries) > visibleRows {
		indicator := mutedTextStyle.Render(fmt.Sprintf(" [%d/%d]", offset+1, len(entries)))
		if padding := width - lipgloss.Width(indicator); padding > 0 {
			b.WriteString(strings.Repeat(" ", padding))
		}
		b.WriteString(indicator)
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderLogEntry renders one entry as "HH:MM:SS [L] component: message".
func renderLogEntry(entry logging.LogEntry, width int) string {
	comp := entry.Component
	if len(comp) > 10 {
		comp = comp[:10]
	}

	msg := entry.Message
	if entry.Fields != "" {
		msg += " " + entry.Fields
	}
	prefixWidth := 8 + 1 + 3 + 1 + len(comp) + 2
	msgWidth := max(width-prefixWidth, 10)
	if len(msg) > msgWidth {
		msg = msg[:msgWidth-3] + "..."
	}

	return fmt.Sprintf("%s %s %s: %s",
		logTimeStyle.Render(entry.Time.Format("15:04:05")),
		logLevelStyle(entry.Level).Render("["+logLevelChar(entry.Level)+"]"),
		logComponentStyle.Render(comp),
		msg)
}
