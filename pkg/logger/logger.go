// Package logger is the process-wide leveled logger.
//
// Call sites use printf-style helpers (Infof, Debugf, ...). Output is produced
// by zerolog, either as human-readable console lines or as JSON records.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the verbosity threshold used by the logger. Lower values are more
// verbose.
type Level int

const (
	// LevelTrace enables extremely verbose logs (wallet events, state
	// transitions).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
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

// Format selects how records are rendered.
type Format string

const (
	// FormatConsole renders colorless, human-readable lines.
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per record.
	FormatJSON Format = "json"
)

var (
	mu     sync.RWMutex
	level  = LevelInfo
	out    io.Writer = os.Stderr
	format           = FormatConsole
	zl               = build(out, format)
)

func build(w io.Writer, f Format) zerolog.Logger {
	if f == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    true,
			TimeFormat: time.TimeOnly,
		}
	}
	// Filtering happens in Enabled so the zerolog level stays wide open.
	return zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// ParseFormat parses a log format string.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatConsole:
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatConsole, fmt.Errorf("unknown log format %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	zl = build(out, format)
}

// SetFormat selects console or JSON rendering.
func SetFormat(f Format) {
	mu.Lock()
	defer mu.Unlock()
	format = f
	zl = build(out, format)
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// Enabled reports whether a level would be emitted by the current
// configuration.
func Enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func logf(l Level, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	mu.RLock()
	z := zl
	mu.RUnlock()

	var ev *zerolog.Event
	switch l {
	case LevelTrace:
		ev = z.Trace()
	case LevelDebug:
		ev = z.Debug()
	case LevelInfo:
		ev = z.Info()
	case LevelWarn:
		ev = z.Warn()
	default:
		ev = z.Error()
	}
	ev.Msgf(format, args...)
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
