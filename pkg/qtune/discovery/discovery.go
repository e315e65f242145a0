// Package discovery finds tuning documents below one or more roots.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/schema"
)

var logger = logging.Get("discovery")

// sniffLimit bounds how much of a file is read to decide whether it is a
// tuning document.
const sniffLimit = 256 * 1024

// Options configures a Finder.
type Options struct {
	// Include holds glob patterns a file must match (base name or path
	// relative to the root). Empty means every file.
	Include []string

	// Exclude holds glob patterns for files and directories to skip.
	Exclude []string

	// Sniff keeps only YAML files whose root has a tuning document key.
	Sniff bool

	// Workers is the number of walk workers; zero lets fastwalk decide.
	Workers int
}

// Finder walks directory trees for tuning documents.
type Finder struct {
	include []glob.Glob
	exclude []glob.Glob
	sniff   bool
	workers int
}

// New compiles the patterns in opts.
func New(opts Options) (*Finder, error) {
	include, err := compile(opts.Include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exclude, err := compile(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return &Finder{include: include, exclude: exclude, sniff: opts.Sniff, workers: opts.Workers}, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Find returns the tuning documents under roots, sorted and de-duplicated.
// A root naming a file is returned as is, without pattern or sniff checks.
func (f *Finder) Find(ctx context.Context, roots ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	add := func(path string) {
		mu.Lock()
		seen[path] = struct{}{}
		mu.Unlock()
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", root, err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}
		if err := f.walk(ctx, abs, add); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *Finder) walk(ctx context.Context, root string, add func(string)) error {
	conf := fastwalk.Config{Follow: false, NumWorkers: f.workers}

	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			logger.Debug("skipping unreadable entry", "path", path, "error", walkErr)
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr // outside root cannot happen during the walk
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if f.Excluded(d.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !f.Match(d.Name(), rel) {
			return nil
		}
		if f.sniff && !SniffFile(path) {
			return nil
		}
		add(path)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return ctx.Err()
}

// Match reports whether a file with base name and root-relative slash path
// rel passes the include and exclude patterns.
func (f *Finder) Match(name, rel string) bool {
	if matchAny(f.exclude, name, rel) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, name, rel)
}

// Excluded reports whether a file or directory matches an exclude pattern.
func (f *Finder) Excluded(name, rel string) bool {
	return matchAny(f.exclude, name, rel)
}

func matchAny(globs []glob.Glob, name, rel string) bool {
	for _, g := range globs {
		if g.Match(name) || g.Match(rel) {
			return true
		}
	}
	return false
}

// SniffFile reports whether the file at path looks like a tuning document.
func SniffFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, sniffLimit))
	if err != nil {
		return false
	}
	return Sniff(data)
}

// Sniff reports whether data is a YAML mapping with at least one top-level
// key of a tuning document.
func Sniff(data []byte) bool {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return false
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return false
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return false
	}

	known := make(map[string]bool)
	for _, k := range schema.TopLevelKeys() {
		known[k] = true
	}
	for i := 0; i < len(root.Content); i += 2 {
		if known[root.Content[i].Value] {
			return true
		}
	}
	return false
}
