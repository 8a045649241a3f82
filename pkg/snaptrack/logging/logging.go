// Package logging provides the component logging used by every snaptrack
// process. A Root is constructed once at process start and hands out
// component loggers; nothing in this package is global.
//
// Basic usage:
//
//	root, err := logging.New(logging.Config{
//	    Level: "info",
//	    Path:  "logs/system.log",
//	})
//	if err != nil {
//	    return err
//	}
//	defer root.Close()
//
//	log := root.Logger("publisher")
//	log.Info("push complete", "files", 3)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
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

// toCharmLevel converts our Level to charmbracelet/log level.
func (l Level) toCharmLevel() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelInfo:
		return log.InfoLevel
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
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures a logging Root.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components maps component names to their log levels.
	Components map[string]string

	// ConsoleLevel enables stderr output at the specified level.
	// Empty disables console output.
	ConsoleLevel string
}

// Logger wraps charmbracelet/log with component identification.
// It writes to the Root's file and, when enabled, to the console.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// Component returns the component name the logger was created for.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	logTo(l.file, level, msg, args...)
	if l.console != nil {
		logTo(l.console, level, msg, args...)
	}
}

// logTo writes a log message to the given logger at the specified level.
func logTo(logger *log.Logger, level Level, msg string, args ...interface{}) {
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

// With returns a new logger with additional context.
func (l *Logger) With(args ...interface{}) *Logger {
	newLogger := &Logger{
		file:      l.file.With(args...),
		component: l.component,
	}
	if l.console != nil {
		newLogger.console = l.console.With(args...)
	}
	return newLogger
}

// Nop returns a logger that discards everything. Tests and optional
// collaborators use it in place of a nil logger.
func Nop() *Logger {
	return &Logger{
		file:      log.NewWithOptions(io.Discard, log.Options{}),
		component: "nop",
	}
}

// NewWriterLogger returns a logger that writes plain text to w at the given
// level. It is intended for tests that assert on log output.
func NewWriterLogger(w io.Writer, component string, level Level) *Logger {
	return &Logger{
		file: log.NewWithOptions(w, log.Options{
			Level:  level.toCharmLevel(),
			Prefix: component,
		}),
		component: component,
	}
}

// Root owns the log destination for one process and creates component
// loggers that share it.
type Root struct {
	mu           sync.Mutex
	writer       *RotatingWriter
	level        Level
	components   map[string]Level
	consoleLevel Level
	console      bool
	loggers      map[string]*Logger
	closed       bool
}

// New opens the log file described by cfg and returns a Root.
func New(cfg Config) (*Root, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	r := &Root{
		level:      level,
		components: components,
		loggers:    make(map[string]*Logger),
	}

	if cfg.ConsoleLevel != "" {
		consoleLevel, err := ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return nil, fmt.Errorf("parsing console level: %w", err)
		}
		r.consoleLevel = consoleLevel
		r.console = true
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}

	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("creating log writer: %w", err)
	}
	r.writer = writer

	return r, nil
}

// Logger returns the logger for the given component, creating it on first use.
func (r *Root) Logger(component string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if logger, ok := r.loggers[component]; ok {
		return logger
	}

	level := r.level
	if compLevel, ok := r.components[component]; ok {
		level = compLevel
	}

	var dest io.Writer = r.writer
	if r.closed {
		dest = io.Discard
	}

	logger := &Logger{
		file: log.NewWithOptions(dest, log.Options{
			Level:           level.toCharmLevel(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
	}

	if r.console {
		logger.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.consoleLevel.toCharmLevel(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}

	r.loggers[component] = logger
	return logger
}

// Path returns the active log file path.
func (r *Root) Path() string {
	return r.writer.path
}

// Close flushes and closes the log file. Loggers obtained before Close
// must not be used afterwards.
func (r *Root) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/snaptrack/system.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "snaptrack", "system.log")
}

// DefaultConfig returns a configuration with the defaults used by the
// long-running loops.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
