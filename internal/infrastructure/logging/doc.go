// Package logging provides structured logging for the Lutron bridge service.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering, adjustable at runtime on config reload
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	hubLogger := logger.ForBridge("main-hub")
//	hubLogger.Info("bridge online", "session_id", id)
//
// *Logger satisfies the lutron.Logger interface directly.
//
// # Security
//
// Never log hub passwords, keystore passwords or API tokens.
package logging
