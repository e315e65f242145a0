package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	qtunev1 "github.com/jamesainslie/qtune/pkg/api/qtune/v1"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

const root = "/work/models"

func validEvent(name string) qtunev1.WatchEvent {
	path := root + "/" + name
	return qtunev1.WatchEvent{
		Type:   qtunev1.EventValidated,
		Path:   path,
		Time:   time.Now(),
		Report: validate.New(nil).ValidateBytes(path, []byte("framework: pytorch\n")),
	}
}

func invalidEvent(name string) qtunev1.WatchEvent {
	path := root + "/" + name
	return qtunev1.WatchEvent{
		Type:   qtunev1.EventValidated,
		Path:   path,
		Time:   time.Now(),
		Report: validate.New(nil).ValidateBytes(path, []byte("device: cpu\n")),
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestModelApplyEvents(t *testing.T) {
	m := NewModel(Options{Root: root, Source: "local"})
	m = update(t, m, eventMsg(validEvent("b.yaml")))
	m = update(t, m, eventMsg(invalidEvent("a.yaml")))

	if !m.received {
		t.Error("received should be set after the first event")
	}
	want := []string{root + "/a.yaml", root + "/b.yaml"}
	if strings.Join(m.order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", m.order, want)
	}
	if got := m.files[root+"/a.yaml"].errors(); got == 0 {
		t.Error("a.yaml should have errors")
	}

	m = update(t, m, eventMsg(qtunev1.WatchEvent{Type: qtunev1.EventRemoved, Path: root + "/a.yaml"}))
	if len(m.order) != 1 || m.order[0] != root+"/b.yaml" {
		t.Errorf("order after removal = %v", m.order)
	}
	if m.status != "removed a.yaml" {
		t.Errorf("status = %q", m.status)
	}
}

func TestModelCursorFollowsSelection(t *testing.T) {
	m := NewModel(Options{Root: root})
	m = update(t, m, eventMsg(validEvent("m.yaml")))
	m = update(t, m, eventMsg(validEvent("z.yaml")))
	m = update(t, m, keyMsg("j"))

	if got := m.selected(); got != root+"/z.yaml" {
		t.Fatalf("selected = %q, want z.yaml", got)
	}

	// A new document sorting before the selection shifts it down.
	m = update(t, m, eventMsg(validEvent("a.yaml")))
	if got := m.selected(); got != root+"/z.yaml" {
		t.Errorf("selected after insert = %q, want z.yaml", got)
	}
	if m.cursor != 2 {
		t.Errorf("cursor = %d, want 2", m.cursor)
	}
}

func TestModelSnapshotStatus(t *testing.T) {
	m := NewModel(Options{Root: root})
	ev := validEvent("tune.yaml")
	ev.SnapshotID = "0123456789abcdef"
	m = update(t, m, eventMsg(ev))

	if m.status != "snapshot 01234567 of tune.yaml" {
		t.Errorf("status = %q", m.status)
	}
	if m.files[ev.Path].SnapshotID != ev.SnapshotID {
		t.Error("snapshot id not recorded")
	}
}

func TestModelInvalidOnly(t *testing.T) {
	m := NewModel(Options{Root: root})
	m = update(t, m, eventMsg(validEvent("a.yaml")))
	m = update(t, m, eventMsg(invalidEvent("b.yaml")))
	m = update(t, m, eventMsg(validEvent("c.yaml")))

	m = update(t, m, keyMsg("i"))
	if !m.invalidOnly {
		t.Fatal("i should enable the invalid filter")
	}
	if len(m.order) != 1 || m.order[0] != root+"/b.yaml" {
		t.Errorf("filtered order = %v", m.order)
	}
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}

	m = update(t, m, keyMsg("i"))
	if len(m.order) != 3 {
		t.Errorf("order after clearing filter = %v", m.order)
	}
	if got := m.selected(); got != root+"/b.yaml" {
		t.Errorf("selection should survive the filter toggle, got %q", got)
	}
}

func TestModelNavigationKeys(t *testing.T) {
	m := NewModel(Options{Root: root})
	for _, name := range []string{"a.yaml", "b.yaml", "c.yaml", "d.yaml"} {
		m = update(t, m, eventMsg(validEvent(name)))
	}

	m = update(t, m, keyMsg("G"))
	if m.cursor != 3 {
		t.Errorf("G: cursor = %d, want 3", m.cursor)
	}
	m = update(t, m, keyMsg("j"))
	if m.cursor != 3 {
		t.Errorf("cursor moved past the end: %d", m.cursor)
	}
	m = update(t, m, keyMsg("k"))
	if m.cursor != 2 {
		t.Errorf("k: cursor = %d, want 2", m.cursor)
	}
	m = update(t, m, keyMsg("g"))
	if m.cursor != 0 {
		t.Errorf("g: cursor = %d, want 0", m.cursor)
	}

	m = update(t, m, keyMsg("enter"))
	if !m.showDetail {
		t.Error("enter should open the detail pane")
	}
	m = update(t, m, keyMsg("l"))
	if !m.logs.Open {
		t.Error("l should open the log pane")
	}
	m = update(t, m, keyMsg("esc"))
	if m.logs.Open {
		t.Error("esc should close the log pane")
	}

	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModelStreamClosed(t *testing.T) {
	m := NewModel(Options{Root: root, Source: "daemon"})
	if !strings.Contains(m.View(), "waiting for daemon") {
		t.Error("view should show the waiting state before any event")
	}

	m = update(t, m, eventMsg(validEvent("a.yaml")))
	if !strings.Contains(m.View(), "LIVE") {
		t.Error("view should be live after an event")
	}

	m = update(t, m, streamClosedMsg{})
	if !m.closed {
		t.Fatal("closed should be set")
	}
	view := m.View()
	if !strings.Contains(view, "DISCONNECTED") {
		t.Error("view should show the stream as disconnected")
	}
	if !strings.Contains(view, "event stream ended") {
		t.Error("footer should carry the status")
	}
}

func TestModelView(t *testing.T) {
	m := NewModel(Options{Root: root, Source: "local"})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m = update(t, m, eventMsg(validEvent("ok.yaml")))
	m = update(t, m, eventMsg(invalidEvent("bad.yaml")))
	m = update(t, m, keyMsg("g"))
	m = update(t, m, keyMsg("enter"))

	view := m.View()
	for _, want := range []string{"QTUNE", "2 files", "1 invalid", "ok.yaml", "bad.yaml", "framework.name"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if lines := strings.Count(view, "\n") + 1; lines > 30 {
		t.Errorf("view has %d lines, taller than the terminal", lines)
	}
}

func TestModelEmptyView(t *testing.T) {
	m := NewModel(Options{Root: root})
	if !strings.Contains(m.View(), "No tuning documents yet") {
		t.Error("empty view should say no documents were found")
	}
	m = update(t, m, keyMsg("i"))
	if !strings.Contains(m.View(), "No invalid documents") {
		t.Error("empty filtered view should say no invalid documents")
	}
}

func TestWaitForEventClosedChannel(t *testing.T) {
	ch := make(chan qtunev1.WatchEvent)
	close(ch)

	if _, ok := waitForEvent(ch)().(streamClosedMsg); !ok {
		t.Error("a closed channel should produce streamClosedMsg")
	}
	if waitForEvent(nil) != nil {
		t.Error("nil channel should produce no command")
	}
}

func TestRelPath(t *testing.T) {
	m := NewModel(Options{Root: root})
	tests := []struct {
		path string
		want string
	}{
		{root + "/a/tune.yaml", "a/tune.yaml"},
		{"/elsewhere/tune.yaml", "/elsewhere/tune.yaml"},
	}
	for _, tt := range tests {
		if got := m.relPath(tt.path); got != tt.want {
			t.Errorf("relPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
