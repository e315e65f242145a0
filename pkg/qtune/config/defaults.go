// Package config manages the qtune tool configuration: output format,
// discovery patterns, history, snapshots, logging, daemon settings and
// registry extensions. It is separate from the tuning documents qtune
// validates.
package config

// Default configuration values.
const (
	// DefaultOutput is the default report format.
	DefaultOutput = "pretty"

	// DefaultRetentionDays is how long history entries are kept.
	DefaultRetentionDays = 30

	// DefaultSnapshotKeep is how many snapshots per document prune keeps.
	DefaultSnapshotKeep = 20

	// DefaultWorkers of zero sizes worker pools from the host.
	DefaultWorkers = 0

	// DefaultDebounce is the watcher debounce in milliseconds.
	DefaultDebounce = 250

	// EnvPrefix prefixes environment overrides (QTUNE_OUTPUT, ...).
	EnvPrefix = "QTUNE"

	// DaemonBinary is the name of the daemon executable.
	DaemonBinary = "qtuned"

	appName = "qtune"
)

// DefaultInclude lists the file patterns treated as tuning documents.
var DefaultInclude = []string{"*.yaml", "*.yml"}

// DefaultExclude lists directory patterns skipped during discovery.
var DefaultExclude = []string{".git", "node_modules", "vendor"}

// DefaultComponentLevels are the per-component log levels.
var DefaultComponentLevels = map[string]string{
	"daemon":  "info",
	"watcher": "warn",
	"store":   "info",
	"tui":     "info",
}
