package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isYAML(path string) bool {
	return strings.HasSuffix(path, ".yaml")
}

func start(t *testing.T, opts Options, root string) (*Watcher, <-chan Change) {
	t.Helper()

	w, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	changes := make(chan Change, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(c Change) { changes <- c })
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return w, changes
}

func next(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func quiet(t *testing.T, changes <-chan Change, d time.Duration) {
	t.Helper()
	select {
	case c := <-changes:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(d):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatchTracksTree(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	skipped := filepath.Join(root, ".git")
	for _, d := range []string{sub, skipped} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	w, err := New(Options{SkipDir: func(p string) bool { return filepath.Base(p) == ".git" }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	w.mu.RLock()
	gotRoot, gotSub, gotSkipped := w.dirs[root], w.dirs[sub], w.dirs[skipped]
	w.mu.RUnlock()
	if !gotRoot || !gotSub {
		t.Errorf("tree not watched: root=%v sub=%v", gotRoot, gotSub)
	}
	if gotSkipped {
		t.Error("skipped directory is watched")
	}

	if roots := w.Roots(); len(roots) != 1 || roots[0] != root {
		t.Errorf("Roots() = %v", roots)
	}
	if !w.Watching(filepath.Join(sub, "a.yaml")) || w.Watching("/elsewhere") {
		t.Error("Watching() gave wrong answer")
	}

	w.Unwatch(root)
	if len(w.Roots()) != 0 {
		t.Error("Unwatch() kept root")
	}
	w.mu.RLock()
	n := len(w.dirs)
	w.mu.RUnlock()
	if n != 0 {
		t.Errorf("Unwatch() left %d watches", n)
	}
}

func TestWatchMissingPath(t *testing.T) {
	w, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Watch() on missing path succeeded")
	}
}

func TestRunReportsWritesAndRemoves(t *testing.T) {
	root := t.TempDir()
	_, changes := start(t, Options{Match: isYAML}, root)

	path := filepath.Join(root, "a.yaml")
	writeFile(t, path, "framework: pytorch\n")

	c := next(t, changes)
	if c.Path != path || c.Kind != ChangeWrite {
		t.Fatalf("got %+v, want write of %s", c, path)
	}

	// drain any extra write events from the same save
	time.Sleep(100 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	c = next(t, changes)
	if c.Path != path || c.Kind != ChangeRemove {
		t.Fatalf("got %+v, want remove of %s", c, path)
	}
}

func TestRunIgnoresUnmatched(t *testing.T) {
	root := t.TempDir()
	_, changes := start(t, Options{Match: isYAML}, root)

	writeFile(t, filepath.Join(root, "notes.txt"), "hi")
	quiet(t, changes, 300*time.Millisecond)
}

func TestRunDebounces(t *testing.T) {
	root := t.TempDir()
	_, changes := start(t, Options{Match: isYAML, Debounce: 200 * time.Millisecond}, root)

	path := filepath.Join(root, "a.yaml")
	for i := 0; i < 5; i++ {
		writeFile(t, path, strings.Repeat("x", i+1))
		time.Sleep(20 * time.Millisecond)
	}

	c := next(t, changes)
	if c.Path != path || c.Kind != ChangeWrite {
		t.Fatalf("got %+v", c)
	}
	quiet(t, changes, 400*time.Millisecond)
}

func TestRunWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, changes := start(t, Options{Match: isYAML, Debounce: 100 * time.Millisecond}, root)

	sub := filepath.Join(root, "new")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		w.mu.RLock()
		watched := w.dirs[sub]
		w.mu.RUnlock()
		if watched {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new directory never watched")
		}
		time.Sleep(20 * time.Millisecond)
	}

	path := filepath.Join(sub, "b.yaml")
	writeFile(t, path, "device: cpu\n")
	c := next(t, changes)
	if c.Path != path {
		t.Fatalf("got %+v, want change of %s", c, path)
	}
}

func TestCloseTwice(t *testing.T) {
	w, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestChangeKindString(t *testing.T) {
	if ChangeWrite.String() != "write" || ChangeRemove.String() != "remove" {
		t.Error("unexpected ChangeKind strings")
	}
}
