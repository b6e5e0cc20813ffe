// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and supports file cleanup.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(LevelFromEnv())

	// Set prefix from environment
	prefix := os.Getenv("TRACEFEED_LOG_PREFIX")
	if prefix == "" {
		prefix = "tracefeed "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// LevelFromEnv maps TRACEFEED_LOG_LEVEL to a log level (default: info).
func LevelFromEnv() log.Level {
	switch os.Getenv("TRACEFEED_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLogger creates a new logger based on environment variables
// TRACEFEED_LOG_LEVEL: debug, info, warn, error (default: info)
// TRACEFEED_LOG_PREFIX: prefix for log messages (default: "tracefeed ")
// TRACEFEED_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	// Check if we should log to file
	if os.Getenv("TRACEFEED_LOG_TO_FILE") == "1" {
		// Create timestamped log file
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("tracefeed-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

var (
	defaultOnce   sync.Once
	defaultLogger *LoggerCloser
)

// Default returns the process-wide logger, created on first use.
func Default() *log.Logger {
	defaultOnce.Do(func() {
		defaultLogger = NewLogger()
	})
	return defaultLogger.Logger
}

// SetDebug lowers the process-wide logger to debug level.
func SetDebug() {
	Default().SetLevel(log.DebugLevel)
}
