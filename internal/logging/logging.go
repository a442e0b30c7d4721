// Package logging builds the slog loggers used across the scheduler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Component identifies a subsystem for log filtering.
type Component string

// Scheduler component identifiers.
const (
	ComponentScheduler  Component = "scheduler"
	ComponentDispatcher Component = "dispatcher"
	ComponentInterrupt  Component = "irq"
	ComponentHardware   Component = "hw"
	ComponentServer     Component = "server"
	ComponentSim        Component = "sim"
)

// NewLogger creates a logger writing to stderr.
//
// format is "text" (default) or "json".
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level.
// Unrecognized values map to slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// For returns logger tagged with the component attribute. A nil logger
// falls back to slog.Default().
func For(logger *slog.Logger, c Component) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", string(c))
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
