package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// DaemonConfig configures qtuned.
type DaemonConfig struct {
	AutoStart  bool     `mapstructure:"auto_start"`
	BinaryPath string   `mapstructure:"binary_path"` // qtuned binary, found next to qtune or on PATH when empty
	SocketPath string   `mapstructure:"socket_path"`
	PIDPath    string   `mapstructure:"pid_path"`
	Watch      []string `mapstructure:"watch"`
	Debounce   int      `mapstructure:"debounce_ms"`
}

// HistoryConfig configures the validation run history.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// SnapshotsConfig configures the snapshot store.
type SnapshotsConfig struct {
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep"`
}

// Config is the qtune tool configuration.
type Config struct {
	Output     string              `mapstructure:"output"`
	Include    []string            `mapstructure:"include"`
	Exclude    []string            `mapstructure:"exclude"`
	Sniff      bool                `mapstructure:"sniff"`
	Workers    int                 `mapstructure:"workers"`
	History    HistoryConfig       `mapstructure:"history"`
	Snapshots  SnapshotsConfig     `mapstructure:"snapshots"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	Daemon     DaemonConfig        `mapstructure:"daemon"`
	Extensions map[string][]string `mapstructure:"extensions"`
}

// Setup prepares v: config file location, QTUNE_ environment overrides and
// defaults. It then reads the file; a missing file is not an error. path
// overrides the search when non-empty.
func Setup(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output", DefaultOutput)
	v.SetDefault("include", DefaultInclude)
	v.SetDefault("exclude", DefaultExclude)
	v.SetDefault("sniff", true)
	v.SetDefault("workers", DefaultWorkers)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("snapshots.path", "")
	v.SetDefault("snapshots.keep", DefaultSnapshotKeep)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", DefaultComponentLevels)

	v.SetDefault("daemon.auto_start", false)
	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.pid_path", "")
	v.SetDefault("daemon.watch", []string{})
	v.SetDefault("daemon.debounce_ms", DefaultDebounce)

	v.SetDefault("extensions", map[string][]string{})
}

// Decode unmarshals v into a Config and resolves empty paths to their XDG
// defaults.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var err error
	if cfg.History.Path == "" {
		cfg.History.Path, err = HistoryDir()
		if err != nil {
			return nil, err
		}
	}
	if cfg.History.Path, err = ExpandPath(cfg.History.Path); err != nil {
		return nil, err
	}
	if cfg.Snapshots.Path == "" {
		cfg.Snapshots.Path = DefaultDBPath()
	}
	if cfg.Snapshots.Path, err = ExpandPath(cfg.Snapshots.Path); err != nil {
		return nil, err
	}
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = DefaultSocketPath()
	}
	if cfg.Daemon.PIDPath == "" {
		cfg.Daemon.PIDPath = DefaultPIDPath()
	}
	for i, w := range cfg.Daemon.Watch {
		if cfg.Daemon.Watch[i], err = ExpandPath(w); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Load reads the configuration from path (or the default location) into a
// fresh viper instance.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := Setup(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() (logging.Config, error) {
	rotation := logging.DefaultRotationConfig()
	if c.Logging.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("invalid logging.rotation.max_size %q: %w", c.Logging.Rotation.MaxSize, err)
		}
		rotation.MaxSize = int64(size)
	}
	rotation.MaxAge = c.Logging.Rotation.MaxAge
	rotation.MaxBackups = c.Logging.Rotation.MaxBackups
	rotation.Daily = c.Logging.Rotation.Daily

	path := c.Logging.Path
	if path == "" {
		path = DefaultLogPath()
	}
	path, err := ExpandPath(path)
	if err != nil {
		return logging.Config{}, err
	}

	return logging.Config{
		Level:      c.Logging.Level,
		Path:       path,
		Rotation:   rotation,
		Components: c.Logging.Components,
	}, nil
}

// Registry builds a value registry holding the configured extensions.
func (c *Config) Registry() (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.RegisterAll(c.Extensions); err != nil {
		return nil, fmt.Errorf("invalid extensions: %w", err)
	}
	return reg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/qtune, or ~/.config/qtune.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// HistoryDir returns the default history directory.
func HistoryDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".history"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/qtune for the database, socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// StateDir returns $XDG_STATE_HOME/qtune for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

// DefaultSocketPath returns the default daemon socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "qtuned.sock")
}

// DefaultPIDPath returns the default daemon PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "qtuned.pid")
}

// DefaultDBPath returns the default snapshot database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "snapshots.db")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "qtune.log")
}

// DefaultBinaryPath returns the first qtuned found in GOBIN, GOPATH/bin or
// ~/go/bin, or "" when there is none.
func DefaultBinaryPath() string {
	var dirs []string
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		dirs = append(dirs, gobin)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		for _, p := range filepath.SplitList(gopath) {
			dirs = append(dirs, filepath.Join(p, "bin"))
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "go", "bin"))
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, DaemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// EnsureDataDir creates the data directory.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// WriteDefault writes the documented default config file when none exists
// and returns its path. created is false if a file was already present.
func WriteDefault() (path string, created bool, err error) {
	path, err = ConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate()), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}

func defaultTemplate() string {
	return fmt.Sprintf(`# qtune configuration

# Report format: pretty, plain, json, jsonl, yaml, tsv, csv, markdown, template
output: %s

# File patterns treated as tuning documents during discovery
include:
  - "*.yaml"
  - "*.yml"

# Directory names skipped during discovery
exclude:
  - .git
  - node_modules
  - vendor

# Only report YAML files that look like tuning documents
sniff: true

# Worker count for discovery and validation (0 = size from host)
workers: %d

# Validation run history
history:
  enabled: true
  path: ""            # default: $XDG_CONFIG_HOME/qtune/.history
  retention_days: %d

# Snapshot store
snapshots:
  path: ""            # default: $XDG_DATA_HOME/qtune/snapshots.db
  keep: %d            # snapshots kept per document by "snapshot prune"

# Values accepted in addition to the built-in enums
extensions: {}
#  framework: [onnxrt]
#  metric: [f1]

logging:
  level: info         # debug, info, warn, error
  path: ""            # default: $XDG_STATE_HOME/qtune/qtune.log
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    daemon: info
    watcher: warn
    store: info
    tui: info

daemon:
  auto_start: false
  binary_path: ""
  socket_path: ""     # default: $XDG_DATA_HOME/qtune/qtuned.sock
  pid_path: ""        # default: $XDG_DATA_HOME/qtune/qtuned.pid
  watch: []           # directories watched at startup
  debounce_ms: %d
`, DefaultOutput, DefaultWorkers, DefaultRetentionDays, DefaultSnapshotKeep, DefaultDebounce)
}
