package log

import (
	"io"
	"os"
	"sync"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewZerologLogger(os.Stderr, LevelInfo, "json")
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the process-wide logger and routes library warnings
// (errors.Warn) to it.
func SetLogger(l Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	errors.SetZerologWarnFunc(func(w error) {
		l.Warn(w.Error(), WarningKey, w)
	})
}

// Setup builds a zerolog-backed logger from a level name and a format
// ("json" or "console"), installs it with SetLogger and returns it.
func Setup(level, format string, w io.Writer) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if format != "json" && format != "console" {
		return nil, errors.NewValidationError("log.format", "must be json or console", format)
	}
	l := NewZerologLogger(w, lvl, format)
	SetLogger(l)
	return l, nil
}
