// Structured logging for the purge belt host
//
// Component loggers with a prefix, log levels, structured fields and
// text or JSON output, backed by logrus.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel is a message severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levels = [...]struct {
	name string
	lr   logrus.Level
}{
	DEBUG: {"DEBUG", logrus.DebugLevel},
	INFO:  {"INFO", logrus.InfoLevel},
	WARN:  {"WARN", logrus.WarnLevel},
	ERROR: {"ERROR", logrus.ErrorLevel},
}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l LogLevel) logrus() logrus.Level {
	if l < DEBUG || l > ERROR {
		return logrus.InfoLevel
	}
	return levels[l].lr
}

func fromLogrus(lr logrus.Level) LogLevel {
	if lr > logrus.DebugLevel {
		return DEBUG
	}
	for l := ERROR; l >= DEBUG; l-- {
		if lr <= levels[l].lr {
			return l
		}
	}
	return ERROR
}

// ParseLevel maps a level name to a LogLevel. Unknown names are INFO.
func ParseLevel(s string) LogLevel {
	switch s = strings.ToUpper(s); s {
	case "WARNING":
		return WARN
	default:
		for l, lv := range levels {
			if lv.name == s {
				return LogLevel(l)
			}
		}
	}
	return INFO
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	// FormatText outputs human-readable text format
	FormatText OutputFormat = iota
	// FormatJSON outputs machine-readable JSON format
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// prefixKey carries the logger prefix through logrus entries.
const prefixKey = "logger"

// Logger is a component logger. Loggers derived with WithPrefix share the
// same backend, so level and output changes apply to all of them.
type Logger struct {
	backend *logrus.Logger
	prefix  string
}

// Entry represents a single log entry with fields
type Entry struct {
	entry *logrus.Entry
}

var (
	defaultLogger *Logger

	ansiColors = map[logrus.Level]string{
		logrus.DebugLevel: "\x1b[36m",
		logrus.InfoLevel:  "\x1b[32m",
		logrus.WarnLevel:  "\x1b[33m",
		logrus.ErrorLevel: "\x1b[31m",
	}
	ansiReset = "\x1b[0m"
)

// textFormatter renders "2006-01-02 15:04:05.000 [INFO ] prefix: msg {k=v}".
type textFormatter struct {
	timeFormat string
	colorize   bool
}

func (f *textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(f.timeFormat))
	sb.WriteString(" [")
	sb.WriteString(fmt.Sprintf("%-5s", fromLogrus(e.Level).String()))
	sb.WriteString("] ")

	if prefix, ok := e.Data[prefixKey].(string); ok && prefix != "" {
		if f.colorize {
			sb.WriteString(ansiColors[e.Level])
		}
		sb.WriteString(prefix)
		if f.colorize {
			sb.WriteString(ansiReset)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != prefixKey {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", e.Data[k]))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)
	backend.SetLevel(logrus.InfoLevel)
	backend.SetFormatter(&textFormatter{
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
	})
	return &Logger{backend: backend, prefix: prefix}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.backend.SetLevel(level.logrus())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return fromLogrus(l.backend.GetLevel())
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.backend.SetOutput(w)
}

// SetColorize enables or disables colorized text output
func (l *Logger) SetColorize(enable bool) {
	if tf, ok := l.backend.Formatter.(*textFormatter); ok {
		tf.colorize = enable
	}
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format OutputFormat) {
	if format == FormatJSON {
		l.backend.SetFormatter(&logrus.JSONFormatter{
			DataKey:         "fields",
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
		return
	}
	l.backend.SetFormatter(&textFormatter{
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
	})
}

func (l *Logger) base() *logrus.Entry {
	return l.backend.WithField(prefixKey, l.prefix)
}

// WithPrefix returns a logger for another component sharing this backend
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{backend: l.backend, prefix: prefix}
}

// Prefix returns the component prefix
func (l *Logger) Prefix() string {
	return l.prefix
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{entry: l.base().WithField(key, value)}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{entry: l.base().WithFields(logrus.Fields(fields))}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.base().Debug(sprintf(msg, args))
}

// Info logs a message at INFO level
func (l *Logger) Info(msg string, args ...interface{}) {
	l.base().Info(sprintf(msg, args))
}

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.base().Warn(sprintf(msg, args))
}

// Error logs a message at ERROR level
func (l *Logger) Error(msg string, args ...interface{}) {
	l.base().Error(sprintf(msg, args))
}

func sprintf(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{entry: e.entry.WithField(key, value)}
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{entry: e.entry.WithFields(logrus.Fields(fields))}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

// Debug logs at DEBUG level with fields
func (e *Entry) Debug(msg string) { e.entry.Debug(msg) }

// Info logs at INFO level with fields
func (e *Entry) Info(msg string) { e.entry.Info(msg) }

// Warn logs at WARN level with fields
func (e *Entry) Warn(msg string) { e.entry.Warn(msg) }

// Error logs at ERROR level with fields
func (e *Entry) Error(msg string) { e.entry.Error(msg) }

// Debugf logs formatted message at DEBUG level with fields
func (e *Entry) Debugf(format string, args ...interface{}) { e.entry.Debugf(format, args...) }

// Infof logs formatted message at INFO level with fields
func (e *Entry) Infof(format string, args ...interface{}) { e.entry.Infof(format, args...) }

// Warnf logs formatted message at WARN level with fields
func (e *Entry) Warnf(format string, args ...interface{}) { e.entry.Warnf(format, args...) }

// Errorf logs formatted message at ERROR level with fields
func (e *Entry) Errorf(format string, args ...interface{}) { e.entry.Errorf(format, args...) }

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// Default returns the process-wide logger
func Default() *Logger {
	return defaultLogger
}

// GetLogger returns a component logger on the default backend
func GetLogger(prefix string) *Logger {
	return defaultLogger.WithPrefix(prefix)
}

func init() {
	defaultLogger = New("purgebelt")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - PURGEBELT_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - PURGEBELT_LOG_FORMAT: text, json
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if levelStr := os.Getenv("PURGEBELT_LOG_LEVEL"); levelStr != "" {
		l.SetLevel(ParseLevel(levelStr))
	}
	switch strings.ToLower(os.Getenv("PURGEBELT_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
