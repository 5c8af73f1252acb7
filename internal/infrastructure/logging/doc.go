// Package logging provides structured logging for osforge.
//
// It wraps the standard library's log/slog with:
//   - Level-based filtering (debug, info, warn, error)
//   - Configurable output format (text or JSON)
//   - Default fields (service name, version)
//   - Child loggers with additional context via With()
//
// Logs go to stderr by default so that dump output on stdout remains
// parseable by downstream tooling.
//
// Usage:
//
//	log := logging.New(logging.Config{Level: "info"}, version)
//	log.Info("resolution complete", "target", target, "defs", len(defs))
package logging
