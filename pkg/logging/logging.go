// Package logging provides component-scoped structured loggers for rdtcap.
// Loggers are silent until Init is called, so library users that never
// configure logging see no output.
//
//	if err := logging.Init(logging.Config{Level: "debug", ConsoleLevel: "warn"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("discovery").Info("L3 CAT detected", "classes", 16)
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

// Level is a logging severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lower-case level name.
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

// ErrInvalidLevel is returned for an unrecognised level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name.
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
	// Level is the default level for every component.
	Level string

	// Path is the log file. Empty uses DefaultLogPath(). Ignored when Sink
	// is set.
	Path string

	// Sink, when non-nil, receives log lines instead of the rotating file.
	Sink io.Writer

	// Rotation configures the rotating file.
	Rotation RotationConfig

	// Components overrides the level per component name.
	Components map[string]string

	// ConsoleLevel mirrors entries at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string

	// TrailSize keeps the most recent entries in memory for Trail().
	// Zero disables the trail.
	TrailSize int
}

// Entry is one recorded log line.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger is a component logger that writes to the configured sink and
// optionally to the console.
type Logger struct {
	out       *log.Logger
	console   *log.Logger
	component string
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.log(LevelDebug, msg, keyvals...) }

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) { l.log(LevelInfo, msg, keyvals...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) { l.log(LevelWarn, msg, keyvals...) }

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.log(LevelError, msg, keyvals...) }

// With returns a logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	c := &Logger{out: l.out.With(keyvals...), component: l.component}
	if l.console != nil {
		c.console = l.console.With(keyvals...)
	}
	return c
}

func (l *Logger) log(level Level, msg string, keyvals ...interface{}) {
	emit(l.out, level, msg, keyvals...)
	if l.console != nil {
		emit(l.console, level, msg, keyvals...)
	}

	if level.charm() >= l.out.GetLevel() {
		global.record(Entry{Time: time.Now(), Level: level, Component: l.component, Message: msg})
	}
}

func emit(logger *log.Logger, level Level, msg string, keyvals ...interface{}) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, keyvals...)
	case LevelInfo:
		logger.Info(msg, keyvals...)
	case LevelWarn:
		logger.Warn(msg, keyvals...)
	case LevelError:
		logger.Error(msg, keyvals...)
	}
}

type state struct {
	mu           sync.RWMutex
	initialized  bool
	sink         io.Writer
	file         *RotatingWriter
	level        Level
	components   map[string]Level
	consoleOn    bool
	consoleLevel Level
	loggers      map[string]*Logger
	trail        *Trail
}

var global = &state{
	loggers:    make(map[string]*Logger),
	components: make(map[string]Level),
}

// Init configures logging. Loggers handed out before Init are rebuilt so
// they pick up the new sink and levels.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if err := global.closeLocked(); err != nil {
		return err
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for name, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", name, err)
		}
		components[name] = parsed
	}

	var consoleLevel Level
	if cfg.ConsoleLevel != "" {
		if consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	sink := cfg.Sink
	var file *RotatingWriter
	if sink == nil {
		path := cfg.Path
		if path == "" {
			path = DefaultLogPath()
		}
		if file, err = NewRotatingWriter(path, cfg.Rotation); err != nil {
			return fmt.Errorf("creating log writer: %w", err)
		}
		sink = file
	}

	global.level = level
	global.components = components
	global.consoleOn = cfg.ConsoleLevel != ""
	global.consoleLevel = consoleLevel
	global.sink = sink
	global.file = file
	global.trail = nil
	if cfg.TrailSize > 0 {
		global.trail = NewTrail(cfg.TrailSize)
	}
	global.initialized = true

	for name := range global.loggers {
		global.loggers[name] = newLogger(name)
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	l, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return l
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.loggers[component]; ok {
		return l
	}
	l = newLogger(component)
	global.loggers[component] = l
	return l
}

// newLogger must be called with global.mu held.
func newLogger(component string) *Logger {
	level := global.level
	if lvl, ok := global.components[component]; ok {
		level = lvl
	}

	if !global.initialized {
		return &Logger{
			out:       log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
			component: component,
		}
	}

	l := &Logger{
		out: log.NewWithOptions(global.sink, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
	}
	if global.consoleOn {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           global.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return l
}

// Close flushes and closes the log file and returns loggers to silence.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.closeLocked()
}

func (s *state) closeLocked() error {
	if !s.initialized {
		return nil
	}
	var err error
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil {
			err = fmt.Errorf("closing log writer: %w", cerr)
		}
	}
	s.file = nil
	s.sink = nil
	s.initialized = false
	s.components = make(map[string]Level)
	s.loggers = make(map[string]*Logger)
	return err
}

func (s *state) record(e Entry) {
	s.mu.RLock()
	trail := s.trail
	s.mu.RUnlock()
	if trail != nil {
		trail.Add(e)
	}
}

// Recent returns the in-memory trail, oldest first. It is empty unless
// Config.TrailSize was set.
func Recent() []Entry {
	global.mu.RLock()
	trail := global.trail
	global.mu.RUnlock()
	if trail == nil {
		return nil
	}
	return trail.Entries()
}

// DefaultLogPath returns $XDG_STATE_HOME/rdtcap/rdtcap.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "rdtcap", "rdtcap.log")
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
