// Package logging provides structured logging configuration for the auditview helper.
//
// Logging Strategy:
// - JSON format for systemd journald compatibility and easy parsing
// - Written to stderr: stdin carries the client connection and stdout may
//   be the same socket when the launcher duplicates it
// - Source locations included for debugging (file:line)
// - Log levels configurable via config file (debug, info, warn, error)
//
// Usage:
//
//	logger := logging.SetupLogger("info")
//	logger.Info("session ended", "requests", n, "component", "server")
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SetupLogger creates a JSON logger on stderr at the given level and sets
// it as the slog default.
// The level parameter accepts: "debug", "info", "warn", "error" (case-insensitive).
// Invalid levels default to "info".
func SetupLogger(level string) *slog.Logger {
	logger := New(os.Stderr, level)

	// Set as default for global access via slog.Info(), slog.Error(), etc.
	slog.SetDefault(logger)

	return logger
}

// New creates a JSON logger writing to w.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		AddSource:   true,
		ReplaceAttr: shortenSource,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// shortenSource trims source paths to start at internal/ or cmd/.
func shortenSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	source.File = trimToModule(source.File, true)
	source.Function = trimToModule(source.Function, false)
	return a
}

func trimToModule(s string, isFile bool) string {
	for _, marker := range []string{"internal/", "cmd/"} {
		if idx := strings.Index(s, marker); idx != -1 {
			return s[idx:]
		}
	}
	if isFile {
		return filepath.Base(s)
	}
	return s
}

// parseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelInfo for unrecognized values.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithComponent returns a logger with a pre-set component attribute.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
