// Package log provides the structured logging interface used by every stage
// of the pipeline.
//
// The interface is slog-compatible: messages take alternating key/value
// fields, and With returns a child logger carrying extra fields. The
// production backend is zerolog (see NewZerologLogger); tests use TestLogger.
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.StageKey, log.StageTrain,
//	    log.ModelNameKey, "Random Forest",
//	)
//	logger.Info("model fitted",
//	    log.SamplesKey, 546,
//	    log.FeaturesKey, 8,
//	)
package log

import (
	"context"
	"strings"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// Logger defines a structured logging interface compatible with log/slog.
type Logger interface {
	// Debug logs a debug-level message with optional key/value fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional key/value fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional key/value fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message. An error value passed as the first
	// field, or as the value of any key, is logged under "error" together
	// with its stack trace.
	//
	//	logger.Error("training failed", err, log.ModelNameKey, "SVM")
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level are emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log.level", "must be one of debug, info, warn, error", s)
	}
}
