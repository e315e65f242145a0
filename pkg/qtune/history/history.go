package history

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

var logger = logging.Get("history")

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

// History stores entries below a directory.
type History struct {
	dir string
	mu  sync.Mutex

	// now is swapped in tests.
	now func() time.Time
}

// New returns a History rooted at dir. The directory is created lazily by
// EnsureDir.
func New(dir string) (*History, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &History{dir: dir, now: time.Now}, nil
}

// Dir returns the directory entries are written to.
func (h *History) Dir() string {
	return h.dir
}

// EnsureDir creates the history directory.
func (h *History) EnsureDir() error {
	return os.MkdirAll(h.dir, 0o755)
}

// LogValidate records a validation run.
func (h *History) LogValidate(files []FileRecord) (*Entry, error) {
	return h.log(OpValidate, files)
}

// LogSnapshot records a snapshot run.
func (h *History) LogSnapshot(files []FileRecord) (*Entry, error) {
	return h.log(OpSnapshot, files)
}

func (h *History) log(op Operation, files []FileRecord) (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if files == nil {
		files = []FileRecord{}
	}
	now := h.now().UTC()
	entry := &Entry{
		ID:        generateID(op, now),
		Timestamp: now,
		Operation: op,
		Files:     files,
		Summary:   summarize(files),
	}

	if err := h.write(entry); err != nil {
		return nil, fmt.Errorf("failed to write history entry: %w", err)
	}
	logger.Debug("recorded run", "id", entry.ID, "files", len(files))
	return entry, nil
}

// write stores entry atomically through a temp file and rename.
func (h *History) write(entry *Entry) error {
	if err := h.EnsureDir(); err != nil {
		return err
	}
	path := filepath.Join(h.dir, entry.ID+".json")

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns entries newest first. A limit of zero or less returns all.
// Files that cannot be parsed are skipped.
func (h *History) List(limit int) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names, err := h.entryFiles()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entry, err := h.read(name)
		if err != nil {
			logger.Warn("skipping unreadable history entry", "file", name, "error", err)
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry with id.
func (h *History) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry, err := h.read(id + ".json")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if entry.ID != id {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed. Entries whose file cannot be parsed are aged by the file's
// modification time.
func (h *History) Cleanup(retentionDays int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().AddDate(0, 0, -retentionDays)

	names, err := h.entryFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		stamp, ok := h.timestamp(name)
		if !ok || !stamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, name)); err != nil {
			logger.Warn("failed to remove history entry", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (h *History) timestamp(name string) (time.Time, bool) {
	if entry, err := h.read(name); err == nil {
		return entry.Timestamp, true
	}
	info, err := os.Stat(filepath.Join(h.dir, name))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (h *History) entryFiles() ([]string, error) {
	files, err := os.ReadDir(h.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	return names, nil
}

func (h *History) read(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, name))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return &entry, nil
}

// generateID returns ids like "validate-2026-06-15T10-30-00-1a2b3c4d5e6f".
func generateID(op Operation, now time.Time) string {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		suffix = []byte(fmt.Sprintf("%06d", now.Nanosecond()%1000000))
	}
	return fmt.Sprintf("%s-%s-%s", op, now.Format("2006-01-02T15-04-05"), hex.EncodeToString(suffix))
}
