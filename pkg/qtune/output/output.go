// Package output renders validation results in the formats selectable with
// qtune's -o flag (pretty, plain, json, jsonl, yaml, tsv, csv, markdown,
// paths, template).
//
// Formatters are looked up by name in a registry:
//
//	f, err := output.Get("json")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := f.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// FileResult is the validation outcome of one document.
type FileResult struct {
	Path        string                `json:"path" yaml:"path"`
	SHA256      string                `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Size        int64                 `json:"size" yaml:"size"`
	Valid       bool                  `json:"valid" yaml:"valid"`
	Errors      int                   `json:"errors" yaml:"errors"`
	Warnings    int                   `json:"warnings" yaml:"warnings"`
	Diagnostics []validate.Diagnostic `json:"diagnostics" yaml:"diagnostics"`
}

// NewFileResult summarizes a report. size is the document size in bytes.
func NewFileResult(r *validate.Report, size int64) FileResult {
	diags := r.Diagnostics
	if diags == nil {
		diags = []validate.Diagnostic{}
	}
	return FileResult{
		Path:        r.Path,
		SHA256:      r.SHA256,
		Size:        size,
		Valid:       r.Valid(),
		Errors:      r.Count(validate.SeverityError),
		Warnings:    r.Count(validate.SeverityWarning),
		Diagnostics: diags,
	}
}

// Summary aggregates the counts of a Result.
type Summary struct {
	Files    int   `json:"files" yaml:"files"`
	Valid    int   `json:"valid" yaml:"valid"`
	Invalid  int   `json:"invalid" yaml:"invalid"`
	Errors   int   `json:"errors" yaml:"errors"`
	Warnings int   `json:"warnings" yaml:"warnings"`
	Bytes    int64 `json:"bytes" yaml:"bytes"`
}

// Result is everything a formatter renders.
type Result struct {
	// Files is sorted by path.
	Files []FileResult

	// Source describes what was validated (roots joined, or "daemon").
	Source string

	// Duration is how long discovery and validation took.
	Duration time.Duration

	// DaemonUp is set when the run went through qtuned.
	DaemonUp bool

	// Warnings holds problems that are not tied to a document, such as
	// unreadable paths.
	Warnings []string

	// Interrupted is set when the run was cancelled.
	Interrupted bool
}

// Summary counts the files and findings in r.
func (r *Result) Summary() Summary {
	s := Summary{Files: len(r.Files)}
	for _, f := range r.Files {
		if f.Valid {
			s.Valid++
		} else {
			s.Invalid++
		}
		s.Errors += f.Errors
		s.Warnings += f.Warnings
		s.Bytes += f.Size
	}
	return s
}

// Valid reports whether every document in r is valid.
func (r *Result) Valid() bool {
	for _, f := range r.Files {
		if !f.Valid {
			return false
		}
	}
	return true
}

// SortFiles orders the files by path.
func (r *Result) SortFiles() {
	sort.Slice(r.Files, func(i, j int) bool { return r.Files[i].Path < r.Files[j].Path })
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps formatter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter for name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// formatDuration renders d for humans: 850ms, 2.4s, 3m 5s, 1h 2m.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, int(sec)%60)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
