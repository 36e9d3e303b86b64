// Package logging provides structured logging for the conductor.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, instance, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger := logging.New(cfg.Logging, cfg.Service.ID, version)
//	logger.Info("starting service", "port", 8080)
//	c := conductor.New(conductor.Options{Logger: logger.Component("conductor")})
//
// Log keys are snake_case: device_id, timeline_obj_id, queue_id, duration_ms.
// Never log secrets, tokens or passwords.
package logging
