package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// Options configures the watch view.
type Options struct {
	// Root is the watched directory; paths are shown relative to it.
	Root string

	// Source names where events come from, e.g. "daemon" or "local".
	Source string

	// Events delivers validation events. The view shows the stream as
	// ended when it closes.
	Events <-chan qtunev1.WatchEvent

	// Logs delivers log entries for the log pane; nil disables live
	// updates.
	Logs <-chan logging.LogEntry
}

// fileState is the latest known state of one document.
type fileState struct {
	Path       string
	Report     *validate.Report
	SnapshotID string
	Updated    time.Time
}

func (f *fileState) errors() int {
	if f.Report == nil {
		return 0
	}
	return f.Report.Count(validate.SeverityError)
}

func (f *fileState) warnings() int {
	if f.Report == nil {
		return 0
	}
	return f.Report.Count(validate.SeverityWarning)
}

// Messages.
type (
	eventMsg        qtunev1.WatchEvent
	streamClosedMsg struct{}
	logEntryMsg     logging.LogEntry
)

// Model is the Bubble Tea model of the watch view.
type Model struct {
	opts Options

	files map[string]*fileState
	order []string // visible paths, sorted

	cursor      int
	offset      int
	showDetail  bool
	invalidOnly bool

	spinner  spinner.Model
	received bool
	closed   bool
	status   string

	logs *LogViewerState

	width  int
	height int
}

// NewModel creates the watch view.
func NewModel(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		opts:    opts,
		files:   make(map[string]*fileState),
		spinner: s,
		logs:    NewLogViewerState(),
		width:   80,
		height:  24,
	}
}

// Run shows the watch view until the user quits.
func Run(opts Options) error {
	_, err := tea.NewProgram(NewModel(opts), tea.WithAltScreen()).Run()
	return err
}

// Init starts the spinner and the event and log listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForEvent(m.opts.Events),
		waitForLog(m.opts.Logs),
	)
}

func waitForEvent(ch <-chan qtunev1.WatchEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func waitForLog(ch <-chan logging.LogEntry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return logEntryMsg(<-ch)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.apply(qtunev1.WatchEvent(msg))
		return m, waitForEvent(m.opts.Events)

	case streamClosedMsg:
		m.closed = true
		m.status = "event stream ended"
		return m, nil

	case logEntryMsg:
		m.logs.AddEntry(logging.LogEntry(msg))
		return m, waitForLog(m.opts.Logs)

	case spinner.TickMsg:
		if m.closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply records one event.
func (m *Model) apply(ev qtunev1.WatchEvent) {
	m.received = true
	when := ev.Time
	if when.IsZero() {
		when = time.Now()
	}

	switch ev.Type {
	case qtunev1.EventRemoved:
		if _, ok := m.files[ev.Path]; ok {
			delete(m.files, ev.Path)
			m.status = "removed " + m.relPath(ev.Path)
		}
	default:
		m.files[ev.Path] = &fileState{
			Path:       ev.Path,
			Report:     ev.Report,
			SnapshotID: ev.SnapshotID,
			Updated:    when,
		}
		if ev.SnapshotID != "" {
			m.status = fmt.Sprintf("snapshot %s of %s", shortID(ev.SnapshotID), m.relPath(ev.Path))
		}
	}

	selected := m.selected()
	m.rebuildOrder()
	if selected != "" {
		for i, p := range m.order {
			if p == selected {
				m.cursor = i
				break
			}
		}
	}
	m.clampCursor()
}

func (m *Model) rebuildOrder() {
	m.order = make([]string, 0, len(m.files))
	for p, f := range m.files {
		if m.invalidOnly && f.errors() == 0 {
			continue
		}
		m.order = append(m.order, p)
	}
	sort.Strings(m.order)
}

func (m *Model) selected() string {
	if m.cursor >= 0 && m.cursor < len(m.order) {
		return m.order[m.cursor]
	}
	return ""
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.order) {
		m.cursor = len(m.order) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	rows := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "l":
		m.logs.Toggle()
		m.clampCursor()
		return m, nil
	}

	if m.logs.Open {
		switch key {
		case "esc":
			m.logs.Toggle()
		case "1":
			m.logs.SetFilterLevel(logging.LevelDebug)
		case "2":
			m.logs.SetFilterLevel(logging.LevelInfo)
		case "3":
			m.logs.SetFilterLevel(logging.LevelWarn)
		case "4":
			m.logs.SetFilterLevel(logging.LevelError)
		case "pgup", "K":
			m.logs.ScrollUp(m.logHeight() - 2)
		case "pgdown", "J":
			m.logs.ScrollDown(m.logHeight() - 2)
		}
	}

	switch key {
	case "up", "k":
		m.cursor--
	case "down", "j":
		m.cursor++
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(m.order) - 1
	case "enter", "d":
		m.showDetail = !m.showDetail
	case "i":
		selected := m.selected()
		m.invalidOnly = !m.invalidOnly
		m.rebuildOrder()
		m.cursor = 0
		for i, p := range m.order {
			if p == selected {
				m.cursor = i
			}
		}
	}
	m.clampCursor()
	return m, nil
}

// Layout.

func (m Model) logHeight() int {
	if !m.logs.Open {
		return 0
	}
	return max(m.height/3, 5)
}

func (m Model) detailHeight() int {
	if !m.showDetail {
		return 0
	}
	return min(max(m.height/4, 4), 12)
}

// listHeight is the number of file rows that fit: the header, the column
// row, dividers and the footer take six lines.
func (m Model) listHeight() int {
	return max(m.height-6-m.detailHeight()-m.logHeight(), 1)
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")
	b.WriteString(m.renderList())

	if m.showDetail {
		b.WriteString(renderDivider(m.width))
		b.WriteString("\n")
		b.WriteString(m.renderDetail())
	}
	if m.logs.Open {
		b.WriteString(renderDivider(m.width))
		b.WriteString("\n")
		b.WriteString(m.logs.View(m.width, m.logHeight()))
		b.WriteString("\n")
	}

	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	invalid, warnings := 0, 0
	for _, f := range m.files {
		if f.errors() > 0 {
			invalid++
		}
		warnings += f.warnings()
	}

	header := fmt.Sprintf(" %s %s", titleStyle.Render("QTUNE"), mutedTextStyle.Render(truncatePath(m.opts.Root, 40)))
	header += mutedTextStyle.Render(fmt.Sprintf("  %d files  •  ", len(m.files)))
	if invalid > 0 {
		header += errorTextStyle.Render(fmt.Sprintf("%d invalid", invalid))
	} else {
		header += successTextStyle.Render("all valid")
	}
	if warnings > 0 {
		header += mutedTextStyle.Render("  •  ") + warningTextStyle.Render(fmt.Sprintf("%d warnings", warnings))
	}

	switch {
	case m.closed:
		header += errorTextStyle.Render("  ○ DISCONNECTED")
	case !m.received:
		header += "  " + m.spinner.View() + mutedTextStyle.Render(" waiting for "+m.opts.Source)
	default:
		header += successTextStyle.Render("  ● LIVE") + mutedTextStyle.Render(" ("+m.opts.Source+")")
	}
	return header
}

func (m Model) renderList() string {
	var b strings.Builder
	rows := m.listHeight()

	b.WriteString(mutedTextStyle.Render(fmt.Sprintf("   %-6s %8s %8s  %-10s  %s", "STATUS", "ERRORS", "WARNINGS", "UPDATED", "PATH")))
	b.WriteString("\n")

	if len(m.order) == 0 {
		msg := "No tuning documents yet"
		if m.invalidOnly {
			msg = "No invalid documents"
		}
		b.WriteString(mutedTextStyle.Render("   " + msg))
		b.WriteString("\n")
		rows--
	}

	end := min(m.offset+rows, len(m.order))
	shown := 0
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
		shown++
	}
	for ; shown < rows; shown++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(i int) string {
	f := m.files[m.order[i]]

	var icon string
	switch {
	case f.errors() > 0:
		icon = errorTextStyle.Render("✗ fail ")
	case f.warnings() > 0:
		icon = warningTextStyle.Render("! warn ")
	default:
		icon = successTextStyle.Render("✓ ok   ")
	}

	updated := humanize.Time(f.Updated)
	if len(updated) > 10 {
		updated = updated[:10]
	}
	pathWidth := max(m.width-42, 10)
	line := fmt.Sprintf("%s%s%s  %-10s  %s",
		icon,
		countStyle.Render(fmt.Sprint(f.errors())),
		countStyle.Render(fmt.Sprint(f.warnings())),
		updated,
		truncatePath(m.relPath(f.Path), pathWidth))

	if i == m.cursor {
		return cursorStyle.Render("> ") + selectedItemStyle.Render(line)
	}
	return "  " + normalItemStyle.Render(line)
}

func (m Model) renderDetail() string {
	var b strings.Builder
	height := m.detailHeight()

	path := m.selected()
	f := m.files[path]
	lines := 0
	if f == nil || f.Report == nil || len(f.Report.Diagnostics) == 0 {
		b.WriteString(mutedTextStyle.Render(" No findings"))
		b.WriteString("\n")
		lines++
	} else {
		for _, d := range f.Report.Diagnostics {
			if lines == height {
				break
			}
			b.WriteString(renderDiagnostic(d, m.width))
			b.WriteString("\n")
			lines++
		}
	}
	for ; lines < height; lines++ {
		b.WriteString("\n")
	}
	return b.String()
}

func renderDiagnostic(d validate.Diagnostic, width int) string {
	var sev string
	switch d.Severity {
	case validate.SeverityError:
		sev = errorTextStyle.Render("error  ")
	case validate.SeverityWarning:
		sev = warningTextStyle.Render("warning")
	default:
		sev = mutedTextStyle.Render("info   ")
	}
	loc := fmt.Sprintf("%d:%d", d.Line, d.Column)
	msg := d.Message
	if maxLen := width - 40; maxLen > 10 && len(msg) > maxLen {
		msg = msg[:maxLen-3] + "..."
	}
	return fmt.Sprintf(" %-7s %s %s %s", loc, sev, fieldStyle.Render(d.Field), msg)
}

func (m Model) renderFooter() string {
	hints := renderKeyHints("↑↓", "move", "enter", "details", "i", "invalid only", "l", "logs", "q", "quit")
	if m.status != "" {
		return hints + mutedTextStyle.Render("  "+m.status)
	}
	return hints
}

func (m Model) relPath(path string) string {
	if m.opts.Root == "" {
		return path
	}
	if rel, err := filepath.Rel(m.opts.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
