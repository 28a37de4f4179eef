// Package logging provides structured logging for SentinelFS components,
// built on zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the component-tagging convention used across
// the daemon: components that log are handed a *Logger, usually through
// their constructor, instead of reaching for a package-level global.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing JSON lines to w at the given level.
// Valid levels: debug, info, warn, error, fatal, panic, trace.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NewConsole creates a logger with human-readable console output, used by
// the CLI when attached to a terminal.
func NewConsole(level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zl := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Component returns a sub-logger tagged with the given component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// With returns a sub-logger with an extra field attached to every entry.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Info(msg string, fields ...any) {
	event := l.zl.Info()
	addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...any) {
	event := l.zl.Warn()
	addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Error(msg string, fields ...any) {
	event := l.zl.Error()
	addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...any) {
	event := l.zl.Debug()
	addFields(event, fields...)
	event.Msg(msg)
}

// addFields adds key-value pairs (key, value, key, value, ...) to event.
func addFields(event *zerolog.Event, fields ...any) {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			event.Str(key, v)
		case int:
			event.Int(key, v)
		case int64:
			event.Int64(key, v)
		case uint32:
			event.Uint32(key, v)
		case uint64:
			event.Uint64(key, v)
		case float64:
			event.Float64(key, v)
		case bool:
			event.Bool(key, v)
		case error:
			event.Err(v)
		case time.Duration:
			event.Dur(key, v)
		case time.Time:
			event.Time(key, v)
		default:
			event.Interface(key, v)
		}
	}
}

// Nop returns a logger that discards all output, for tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}
