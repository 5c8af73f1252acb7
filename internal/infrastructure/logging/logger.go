package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction. It is deliberately small: the
// level and format come from CLI flags, not the persisted settings
// file, so a --debug run never has to touch configuration on disk.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output string // stderr (default) or stdout
}

// Logger wraps slog.Logger with osforge-specific functionality.
//
// It provides structured logging with default fields and level-based
// filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// Log output defaults to stderr: stdout is reserved for --dump-defs and
// --dump-config output, which must stay machine-readable.
//
// Parameters:
//   - cfg: Logging configuration derived from CLI flags
//   - version: Application version for the default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg Config, version string) *Logger {
	// Determine output writer
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	// Parse log level
	level := parseLevel(cfg.Level)

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	// Add default fields
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "osforge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to warn if unrecognised, keeping normal runs quiet.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	passLog := logger.With("pass_id", id)
//	passLog.Info("layer merged") // Includes pass_id
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before CLI flags are parsed.
//
// This logger outputs to stderr in text format at warn level.
func Default() *Logger {
	return New(Config{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	}, "dev")
}
