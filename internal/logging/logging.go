// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// and component-scoped loggers for the scanner, the persistence layer and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		// Assume it's a file path
		if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	return NewWithWriter(cfg, writer), nil
}

// NewWithWriter creates a logger that writes to w regardless of cfg.Output.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return NewWithWriter(DefaultConfig(), os.Stdout)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithWriter(DefaultConfig(), io.Discard)
}

func parseLevel(level LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithScanID adds a scan ID field to the logger.
func (l *Logger) WithScanID(scanID string) *Logger {
	return l.WithFields("scan_id", scanID)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoScan logs scan-related information about a socket.
func (l *Logger) InfoScan(msg, socket string, fields ...any) {
	allFields := append([]any{"socket", socket}, fields...)
	l.Info(msg, allFields...)
}

// ErrorScan logs scan-related errors about a socket.
func (l *Logger) ErrorScan(msg, socket string, err error, fields ...any) {
	allFields := append([]any{"socket", socket, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDatabase logs database-related information.
func (l *Logger) InfoDatabase(msg string, fields ...any) {
	allFields := append([]any{"component", "database"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorDatabase logs database-related errors.
func (l *Logger) ErrorDatabase(msg string, err error, fields ...any) {
	allFields := append([]any{"component", "database", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// InfoDatabase logs database-related information using the default logger.
func InfoDatabase(msg string, fields ...any) {
	defaultLogger.InfoDatabase(msg, fields...)
}

// ErrorDatabase logs database-related errors using the default logger.
func ErrorDatabase(msg string, err error, fields ...any) {
	defaultLogger.ErrorDatabase(msg, err, fields...)
}
