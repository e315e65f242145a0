package logging

import "sync"

// DefaultBufferSize is the number of entries kept for the TUI log panel.
const DefaultBufferSize = 200

// LogBuffer is a fixed-size ring of recent log entries.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	start   int
	count   int
}

// NewLogBuffer creates a buffer holding up to size entries.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{entries: make([]LogEntry, size)}
}

// Add appends entry, overwriting the oldest when full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[(b.start+b.count)%len(b.entries)] = entry
	if b.count < len(b.entries) {
		b.count++
		return
	}
	b.start = (b.start + 1) % len(b.entries)
}

// Last returns up to n of the newest entries at or above min, oldest first.
// n <= 0 returns every matching entry.
func (b *LogBuffer) Last(n int, min Level) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []LogEntry
	for i := b.count - 1; i >= 0; i-- {
		e := b.entries[(b.start+i)%len(b.entries)]
		if e.Level < min {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear drops every entry.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.count = 0, 0
}
