// Package watcher reports debounced changes to tuning documents below
// watched directories.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

var logger = logging.Get("watcher")

// ChangeKind says whether a document was written or went away.
type ChangeKind int

const (
	ChangeWrite ChangeKind = iota
	ChangeRemove
)

func (k ChangeKind) String() string {
	if k == ChangeRemove {
		return "remove"
	}
	return "write"
}

// Change is one settled filesystem change.
type Change struct {
	Path string
	Kind ChangeKind
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a path must be quiet before its change is
	// reported. Zero reports every event at once.
	Debounce time.Duration

	// Match selects the files whose changes are reported. Nil matches all.
	Match func(path string) bool

	// SkipDir reports directories that are never watched. Nil skips none.
	SkipDir func(path string) bool
}

// Watcher watches directory trees with fsnotify.
type Watcher struct {
	fsw   *fsnotify.Watcher
	opts  Options
	mu    sync.RWMutex
	dirs  map[string]bool
	roots map[string]bool

	closed bool
}

// New creates a Watcher.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:   fsw,
		opts:  opts,
		dirs:  make(map[string]bool),
		roots: make(map[string]bool),
	}, nil
}

// Watch adds root and every directory below it. Symlinks are not followed.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		absRoot = filepath.Dir(absRoot)
	}

	if err := w.addTree(absRoot); err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[absRoot] = true
	w.mu.Unlock()

	logger.Info("watching", "root", absRoot)
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.IsDir() {
			return nil
		}
		if path != root && w.opts.SkipDir != nil && w.opts.SkipDir(path) {
			return filepath.SkipDir
		}
		return w.addWatch(path)
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.dirs[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		logger.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.dirs[path] = true
	return nil
}

// Unwatch stops watching root and everything below it.
func (w *Watcher) Unwatch(root string) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	delete(w.roots, absRoot)
	w.removeUnder(absRoot)
}

// removeUnder drops the watches on path and its children. Callers hold mu.
func (w *Watcher) removeUnder(path string) {
	for dir := range w.dirs {
		if dir == path || isSubPath(dir, path) {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// Roots returns the watched roots, sorted.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots
}

// Watching reports whether path lies under a watched root.
func (w *Watcher) Watching(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for r := range w.roots {
		if path == r || isSubPath(path, r) {
			return true
		}
	}
	return false
}

// Run delivers settled changes to onChange until ctx is done or the
// watcher is closed. Changes of one flush arrive sorted by path.
func (w *Watcher) Run(ctx context.Context, onChange func(Change)) {
	pending := make(map[string]ChangeKind)
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			onChange(Change{Path: p, Kind: pending[p]})
		}
		clear(pending)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, pending)
			if len(pending) == 0 {
				continue
			}
			if w.opts.Debounce <= 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, pending map[string]ChangeKind) {
	path := event.Name

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&fs.ModeSymlink != 0 {
			return
		}
		if info.IsDir() {
			if w.opts.SkipDir != nil && w.opts.SkipDir(path) {
				return
			}
			_ = w.addTree(path)
			w.queueTree(path, pending)
			return
		}
		w.queue(path, ChangeWrite, pending)

	case event.Has(fsnotify.Write):
		w.queue(path, ChangeWrite, pending)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a create.
		w.mu.Lock()
		if w.dirs[path] {
			w.removeUnder(path)
		}
		w.mu.Unlock()
		w.queue(path, ChangeRemove, pending)
	}
}

// queueTree reports the files of a directory that appeared with content.
func (w *Watcher) queueTree(dir string, pending map[string]ChangeKind) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.Type().IsRegular() {
			w.queue(path, ChangeWrite, pending)
		}
		return nil
	})
}

func (w *Watcher) queue(path string, kind ChangeKind, pending map[string]ChangeKind) {
	if w.opts.Match != nil && !w.opts.Match(path) {
		return
	}
	pending[path] = kind
}

// Close stops all watches. Run returns once the event channels close.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.dirs = make(map[string]bool)
	w.roots = make(map[string]bool)
	return w.fsw.Close()
}

func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
