package util

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	defaultLogger *log.Logger
	logFile       *os.File
	once          sync.Once
)

// GetLogger returns the default logger instance.
func GetLogger() *log.Logger {
	once.Do(func() {
		defaultLogger = NewLogger("info", "")
	})
	return defaultLogger
}

// NewLogger creates a logger writing to stderr and, when filePath is
// set, appending to that file as well.
func NewLogger(level string, filePath string) *log.Logger {
	return newLogger(level, filePath, true)
}

func newLogger(level string, filePath string, stderr bool) *log.Logger {
	var writers []io.Writer
	if stderr {
		writers = append(writers, os.Stderr)
	}

	if filePath != "" {
		if err := EnsureDir(filepath.Dir(filePath)); err == nil {
			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				logFile = file
				writers = append(writers, file)
			}
		}
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	l := log.NewWithOptions(io.MultiWriter(writers...), log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Prefix:          "lanscope",
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel parses a string log level.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// CloseLogger closes the log file if open.
func CloseLogger() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Debug logs a debug message using the default logger.
func Debug(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// InitLogger initializes the default logger with config.
func InitLogger(level string, filePath string) {
	once.Do(func() {
		defaultLogger = NewLogger(level, filePath)
	})
}

// InitFileLogger initializes the default logger writing only to
// filePath, for commands that own the terminal.
func InitFileLogger(level string, filePath string) {
	once.Do(func() {
		defaultLogger = newLogger(level, filePath, false)
	})
}
