package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/qtune/pkg/qtune/discovery"
	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/output"
	"github.com/jamesainslie/qtune/pkg/qtune/registry"
	"github.com/jamesainslie/qtune/pkg/qtune/resources"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.s, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestValidLabel(t *testing.T) {
	assert.Equal(t, "valid", validLabel(true))
	assert.Equal(t, "invalid", validLabel(false))
}

func TestKindNames(t *testing.T) {
	names := kindNames()
	for _, k := range registry.Kinds() {
		assert.Contains(t, names, string(k))
	}
	assert.Equal(t, len(registry.Kinds())-1, strings.Count(names, ", "))
}

func TestFormatDocument(t *testing.T) {
	reg = registry.New()

	t.Run("normalizes", func(t *testing.T) {
		out, err := formatDocument("tune.yaml", []byte("framework: PyTorch\ndevice: CPU\n"))
		require.NoError(t, err)
		assert.Contains(t, string(out), "cpu")
		assert.NotContains(t, string(out), "CPU")

		doc, err := loader.Parse(out)
		require.NoError(t, err, string(out))
		assert.Equal(t, "cpu", doc.Config.Device)
	})

	t.Run("refuses unknown fields", func(t *testing.T) {
		_, err := formatDocument("tune.yaml", []byte("framework: pytorch\ndevce: cpu\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot format tune.yaml")
		assert.Contains(t, err.Error(), "devce")
	})

	t.Run("refuses syntax errors", func(t *testing.T) {
		_, err := formatDocument("bad.yaml", []byte("framework: pytorch\n\tdevice: cpu\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestExportSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tune.yaml")
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	t.Run("unset path", func(t *testing.T) {
		out, err := exportSnapshot(path, []byte("framework: pytorch\n"), now)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("relative to document", func(t *testing.T) {
		out, err := exportSnapshot(path, []byte("framework: pytorch\nsnapshot:\n  path: saved\n"), now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "saved", "tune-20260102-150405.yaml"), out)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Contains(t, string(data), "pytorch")
	})
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	require.NoError(t, writeFileAtomic(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestValidateAll(t *testing.T) {
	paths := []string{"/a.yaml", "/b.yaml", "/c.yaml", "/broken.yaml"}
	var calls atomic.Int32
	check := func(_ context.Context, path string) (output.FileResult, error) {
		calls.Add(1)
		if path == "/broken.yaml" {
			return output.FileResult{}, errors.New("permission denied")
		}
		return output.FileResult{Path: path, Valid: true}, nil
	}

	files, warnings := validateAll(context.Background(), paths, resources.Pools{ValidateWorkers: 2, QueueSize: 1}, check)

	assert.EqualValues(t, 4, calls.Load())
	require.Len(t, files, 3)
	got := []string{files[0].Path, files[1].Path, files[2].Path}
	sort.Strings(got)
	assert.Equal(t, []string{"/a.yaml", "/b.yaml", "/c.yaml"}, got)
	assert.Equal(t, []string{"/broken.yaml: permission denied"}, warnings)
}

func TestValidateAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	check := func(_ context.Context, path string) (output.FileResult, error) {
		return output.FileResult{Path: path}, nil
	}
	files, warnings := validateAll(ctx, []string{"/a.yaml", "/b.yaml"}, resources.Pools{ValidateWorkers: 1}, check)

	assert.Empty(t, files)
	assert.Empty(t, warnings)
}

func TestDiscoverWarnsPerRoot(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "tune.yaml")
	require.NoError(t, os.WriteFile(doc, []byte("framework: pytorch\n"), 0o644))

	finder, err := discovery.New(discovery.Options{Include: []string{"*.yaml"}, Sniff: true})
	require.NoError(t, err)

	missing := filepath.Join(dir, "missing")
	paths, warnings := discover(context.Background(), finder, []string{dir, missing, doc})

	assert.Equal(t, []string{doc}, paths, "documents are de-duplicated across roots")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "missing")
}

func TestNewFormatter(t *testing.T) {
	t.Cleanup(viper.Reset)

	tests := []struct {
		name     string
		output   string
		template string
		wantErr  string
	}{
		{name: "default", output: ""},
		{name: "json", output: "json"},
		{name: "template", output: "template", template: "{{.Path}}"},
		{name: "template without text", output: "template", wantErr: "--template is required"},
		{name: "unknown", output: "xml", wantErr: "available:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set("output", tt.output)
			viper.Set("template", tt.template)

			f, err := newFormatter()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, f)
		})
	}
}

func TestOutputFormatDefault(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("output", "")
	assert.Equal(t, "pretty", outputFormat())

	viper.Set("output", "csv")
	assert.Equal(t, "csv", outputFormat())
}
