// Package logging is the logging layer shared by the qtune CLI, the watch
// TUI and the qtuned daemon.
//
// Loggers are obtained per component and may be created before Init; they
// pick up the file, console and level settings once Init runs.
//
//	if err := logging.Init(logging.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logger := logging.Get("validate")
//	logger.Info("validated", "path", path, "errors", n)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel mirrors entries at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string

	// TUIMode suppresses console output and keeps recent entries in a
	// ring buffer for the watch view's log panel.
	TUIMode bool
}

// LogEntry is a single log record delivered to subscribers.
type LogEntry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	// Fields holds the key=value pairs passed with the message.
	Fields string
}

// sinks are the charm loggers a Logger writes to. They are swapped in
// place when Init runs so package-level loggers follow reconfiguration.
type sinks struct {
	file    *log.Logger
	console *log.Logger
}

// Logger is a component logger backed by charmbracelet/log.
type Logger struct {
	component string
	args      []any
	sinks     atomic.Pointer[sinks]
	parent    *Logger
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a logger that adds args to every message.
func (l *Logger) With(args ...any) *Logger {
	root := l
	for root.parent != nil {
		root = root.parent
	}
	combined := make([]any, 0, len(l.args)+len(args))
	combined = append(combined, l.args...)
	combined = append(combined, args...)
	return &Logger{component: l.component, args: combined, parent: root}
}

func (l *Logger) current() *sinks {
	if l.parent != nil {
		return l.parent.sinks.Load()
	}
	return l.sinks.Load()
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if len(l.args) > 0 {
		args = append(append([]any(nil), l.args...), args...)
	}

	s := l.current()
	if s != nil {
		write(s.file, level, msg, args...)
		if s.console != nil {
			write(s.console, level, msg, args...)
		}
	}

	if !global.enabled(l.component, level) {
		return
	}
	global.broadcast(LogEntry{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    formatFields(args),
	})
}

func write(logger *log.Logger, level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

func formatFields(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	return b.String()
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      *RotatingWriter
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger
	subscribers map[chan LogEntry]struct{}

	consoleEnabled bool
	consoleLevel   Level
	tuiMode        bool
	buffer         *LogBuffer
}

var global = &state{
	loggers:     make(map[string]*Logger),
	components:  make(map[string]Level),
	subscribers: make(map[chan LogEntry]struct{}),
}

// Init configures the logging system. Loggers handed out before Init write
// nowhere until it runs; calling Init again reconfigures every logger.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	var consoleLevel Level
	consoleEnabled := cfg.ConsoleLevel != "" && !cfg.TUIMode
	if consoleEnabled {
		if consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.level = level
	global.components = components
	global.consoleEnabled = consoleEnabled
	global.consoleLevel = consoleLevel
	global.tuiMode = cfg.TUIMode
	global.buffer = nil
	if cfg.TUIMode {
		global.buffer = NewLogBuffer(DefaultBufferSize)
	}
	global.initialized = true

	for _, logger := range global.loggers {
		logger.sinks.Store(global.newSinks(logger.component))
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	logger, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return logger
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if logger, ok := global.loggers[component]; ok {
		return logger
	}
	logger = &Logger{component: component}
	logger.sinks.Store(global.newSinks(component))
	global.loggers[component] = logger
	return logger
}

// newSinks builds the charm loggers for component. Caller holds mu.
func (s *state) newSinks(component string) *sinks {
	level := s.levelFor(component)
	if !s.initialized {
		return &sinks{file: log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component})}
	}

	out := &sinks{
		file: log.NewWithOptions(s.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}
	if s.consoleEnabled && !s.tuiMode {
		out.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           s.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return out
}

func (s *state) levelFor(component string) Level {
	if lvl, ok := s.components[component]; ok {
		return lvl
	}
	return s.level
}

func (s *state) enabled(component string, level Level) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized && level >= s.levelFor(component)
}

// Close flushes the log file and closes every subscription.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.initialized {
		return nil
	}

	for ch := range global.subscribers {
		close(ch)
		delete(global.subscribers, ch)
	}

	var err error
	if global.writer != nil {
		if cerr := global.writer.Close(); cerr != nil {
			err = fmt.Errorf("closing log writer: %w", cerr)
		}
		global.writer = nil
	}

	global.initialized = false
	global.buffer = nil
	for _, logger := range global.loggers {
		logger.sinks.Store(global.newSinks(logger.component))
	}
	return err
}

// Subscribe returns a buffered channel receiving every enabled entry.
// Entries are dropped for subscribers that fall behind.
func Subscribe() <-chan LogEntry {
	global.mu.Lock()
	defer global.mu.Unlock()

	ch := make(chan LogEntry, 100)
	global.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription. The channel is not closed.
func Unsubscribe(ch <-chan LogEntry) {
	global.mu.Lock()
	defer global.mu.Unlock()

	for sub := range global.subscribers {
		if sub == ch {
			delete(global.subscribers, sub)
			return
		}
	}
}

func (s *state) broadcast(entry LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.buffer != nil {
		s.buffer.Add(entry)
	}
	for ch := range s.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Buffer returns the TUI ring buffer, or nil outside TUI mode.
func Buffer() *LogBuffer {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.buffer
}

// DefaultLogPath returns $XDG_STATE_HOME/qtune/qtune.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "qtune", "qtune.log")
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
