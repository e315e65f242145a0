package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/qtune/pkg/qtune/config"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Daemon.SocketPath = "/run/default.sock"
	cfg.Daemon.Debounce = 250
	cfg.Daemon.Watch = []string{"/srv/models"}

	applyOverrides(cfg, options{
		pid:      "/tmp/qtuned.pid",
		db:       "/tmp/snapshots.db",
		watch:    []string{"models"},
		debounce: 0,
	})

	wantWatch, err := filepath.Abs("models")
	require.NoError(t, err)

	assert.Equal(t, "/run/default.sock", cfg.Daemon.SocketPath, "unset flags keep the configured value")
	assert.Equal(t, "/tmp/qtuned.pid", cfg.Daemon.PIDPath)
	assert.Equal(t, "/tmp/snapshots.db", cfg.Snapshots.Path)
	assert.Equal(t, []string{wantWatch}, cfg.Daemon.Watch)
	assert.Equal(t, 0, cfg.Daemon.Debounce)
}

func TestApplyOverridesKeepsDebounce(t *testing.T) {
	cfg := &config.Config{}
	cfg.Daemon.Debounce = 250

	applyOverrides(cfg, options{debounce: -1})

	assert.Equal(t, 250, cfg.Daemon.Debounce)
}
