package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultInclude, cfg.Include)
	assert.Equal(t, DefaultExclude, cfg.Exclude)
	assert.True(t, cfg.Sniff)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, filepath.Join(dir, "config", "qtune", ".history"), cfg.History.Path)
	assert.Equal(t, filepath.Join(dir, "data", "qtune", "snapshots.db"), cfg.Snapshots.Path)
	assert.Equal(t, filepath.Join(dir, "data", "qtune", "qtuned.sock"), cfg.Daemon.SocketPath)
	assert.Equal(t, DefaultSnapshotKeep, cfg.Snapshots.Keep)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "custom.yaml")
	content := `output: json
workers: 6
history:
  path: ~/hist
extensions:
  metric: [f1]
daemon:
  watch: [~/models]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("QTUNE_SNAPSHOTS_KEEP", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, 3, cfg.Snapshots.Keep)
	assert.Equal(t, filepath.Join(dir, "hist"), cfg.History.Path)
	assert.Equal(t, []string{filepath.Join(dir, "models")}, cfg.Daemon.Watch)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.Allowed(registry.KindMetric, "f1"))
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: [json\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	cfg := &Config{Extensions: map[string][]string{"colour": {"red"}}}
	_, err := cfg.Registry()
	assert.ErrorIs(t, err, registry.ErrUnknownKind)
}

func TestLoggingConfig(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(10*1000*1000), lc.Rotation.MaxSize)
	assert.Equal(t, DefaultLogPath(), lc.Path)

	cfg.Logging.Rotation.MaxSize = "lots"
	_, err = cfg.LoggingConfig()
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	isolate(t)

	path, created, err := WriteDefault()
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = WriteDefault()
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultDebounce, cfg.Daemon.Debounce)
}

func TestExpandPath(t *testing.T) {
	dir := isolate(t)

	tests := map[string]string{
		"~":          dir,
		"~/snaps":    filepath.Join(dir, "snaps"),
		"/abs/path":  "/abs/path",
		"relative":   "relative",
		"~user/path": "~user/path",
	}
	for in, want := range tests {
		got, err := ExpandPath(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
