// Package log provides the leveled, field-carrying logger used across the
// storage engine. Loggers are cheap to derive: WithField returns a child
// sharing the parent's output and level, so components stamp their identity
// once and log through the child.
package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level orders log severities from most to least verbose.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelFatal logs and then exits the process
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel maps a case-insensitive level name to its Level. Unknown
// names fall back to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is the interface engine components log through. Messages are
// printf-style; args are optional.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Fatal logs and then calls os.Exit(1)
	Fatal(msg string, args ...interface{})
	// WithFields derives a child logger carrying the merged fields
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger
	GetLevel() Level
	SetLevel(level Level)
}

// StandardLogger writes timestamped single-line entries. The level check
// is atomic so SetLevel is safe against concurrent logging; derived
// loggers share the parent's level and writer.
type StandardLogger struct {
	level  *atomic.Int32
	mu     *sync.Mutex
	out    io.Writer
	prefix string // pre-rendered " k=v" pairs, sorted by key
	fields map[string]interface{}
}

// LoggerOption configures a StandardLogger at construction.
type LoggerOption func(*StandardLogger)

// WithLevel sets the initial level.
func WithLevel(level Level) LoggerOption {
	return func(l *StandardLogger) {
		l.level.Store(int32(level))
	}
}

// WithOutput directs entries to out instead of stderr.
func WithOutput(out io.Writer) LoggerOption {
	return func(l *StandardLogger) {
		l.out = out
	}
}

// WithInitialFields stamps fields onto every entry the logger writes.
func WithInitialFields(fields map[string]interface{}) LoggerOption {
	return func(l *StandardLogger) {
		for k, v := range fields {
			l.fields[k] = v
		}
		l.prefix = renderFields(l.fields)
	}
}

// NewStandardLogger builds a logger writing to stderr at LevelInfo unless
// options say otherwise.
func NewStandardLogger(options ...LoggerOption) *StandardLogger {
	l := &StandardLogger{
		level:  new(atomic.Int32),
		mu:     new(sync.Mutex),
		out:    os.Stderr,
		fields: make(map[string]interface{}),
	}
	l.level.Store(int32(LevelInfo))
	for _, option := range options {
		option(l)
	}
	return l
}

// renderFields flattens fields into " k=v" pairs in key order so entries
// for the same logger are byte-stable and grep-friendly.
func renderFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *StandardLogger) write(level Level, msg string, args ...interface{}) {
	if int32(level) < l.level.Load() {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := fmt.Sprintf("[%s] [%s]%s %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, l.prefix, msg)

	l.mu.Lock()
	io.WriteString(l.out, line)
	l.mu.Unlock()

	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *StandardLogger) Debug(msg string, args ...interface{}) { l.write(LevelDebug, msg, args...) }
func (l *StandardLogger) Info(msg string, args ...interface{})  { l.write(LevelInfo, msg, args...) }
func (l *StandardLogger) Warn(msg string, args ...interface{})  { l.write(LevelWarn, msg, args...) }
func (l *StandardLogger) Error(msg string, args ...interface{}) { l.write(LevelError, msg, args...) }
func (l *StandardLogger) Fatal(msg string, args ...interface{}) { l.write(LevelFatal, msg, args...) }

// WithFields derives a child logger carrying the merged fields. The child
// shares the parent's writer, lock, and level.
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{
		level:  l.level,
		mu:     l.mu,
		out:    l.out,
		prefix: renderFields(merged),
		fields: merged,
	}
}

func (l *StandardLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *StandardLogger) GetLevel() Level {
	return Level(l.level.Load())
}

func (l *StandardLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// The default logger honors STRATA_LOG_LEVEL at startup.
var defaultLogger = NewStandardLogger(
	WithLevel(initialLevel()),
)

func initialLevel() Level {
	if name := os.Getenv("STRATA_LOG_LEVEL"); name != "" {
		return ParseLevel(name)
	}
	return LevelInfo
}

// SetDefaultLogger replaces the process-wide default logger.
func SetDefaultLogger(logger *StandardLogger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the process-wide default logger.
func GetDefaultLogger() *StandardLogger {
	return defaultLogger
}

// Package-level convenience functions logging through the default logger.

func Debug(msg string, args ...interface{}) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...interface{})  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...interface{})  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...interface{}) { defaultLogger.Error(msg, args...) }
func Fatal(msg string, args ...interface{}) { defaultLogger.Fatal(msg, args...) }

func WithFields(fields map[string]interface{}) Logger {
	return defaultLogger.WithFields(fields)
}

func WithField(key string, value interface{}) Logger {
	return defaultLogger.WithField(key, value)
}

func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}
