package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/conductor/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "conductor"

// Logger wraps slog.Logger with conductor-specific defaults.
//
// It satisfies the small Logger interfaces declared by the domain packages
// (Debug, Info, Warn, Error with key-value arguments).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the configured output.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service, instance, version)
func New(cfg config.LoggingConfig, instance, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(output, cfg, instance, version)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, instance, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}
	if instance != "" {
		attrs = append(attrs, slog.String("instance", instance))
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs(attrs)),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	pipelineLogger := logger.With("component", "pipeline")
//	pipelineLogger.Info("state applied") // Includes component=pipeline
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "", "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
