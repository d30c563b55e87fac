// Package logging provides structured JSON logging for the QNEWT
// minimization service.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int8

const (
	// DebugLevel entries trace per-iteration solver progress. Usually off in
	// production.
	DebugLevel Level = iota
	// InfoLevel is the default priority.
	InfoLevel
	// WarnLevel entries are notable but need no individual review.
	WarnLevel
	// ErrorLevel entries indicate a failed request or run.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level, defaulting to InfoLevel for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Logger writes JSON entries, one per line. Loggers derived with WithFields
// share the output writer and its mutex, so concurrent request handlers and
// solver goroutines never interleave partial lines.
type Logger struct {
	level  Level
	mu     *sync.Mutex
	output io.Writer
	fields map[string]interface{}
}

// New creates a Logger writing at or above level.
func New(level Level, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		mu:     &sync.Mutex{},
		output: output,
		fields: map[string]interface{}{},
	}
}

// WithFields returns a derived Logger carrying the extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, mu: l.mu, output: l.output, fields: merged}
}

// WithField returns a derived Logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a derived Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// WithJob returns a derived Logger scoped to one minimization job.
func (l *Logger) WithJob(id string) *Logger {
	return l.WithField("job_id", id)
}

func (l *Logger) enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) write(level Level, msg string, extra map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(extra)+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range extra {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = msg
	if _, ok := entry["caller"]; !ok {
		entry["caller"] = caller(3)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(fmt.Sprintf(`{"level":%q,"message":%q,"marshal_error":%q}`,
			level.String(), msg, err.Error()))
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, _ = l.output.Write(line)
	l.mu.Unlock()

	if level == FatalLevel {
		os.Exit(1)
	}
}

// caller returns "pkg/file.go:line" for the given call depth.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.write(DebugLevel, msg, first(fields))
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.write(InfoLevel, msg, first(fields))
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.write(WarnLevel, msg, first(fields))
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.write(ErrorLevel, msg, first(fields))
}

// Fatal logs a message at FatalLevel then exits.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.write(FatalLevel, msg, first(fields))
}

type ctxLoggerKey struct{}

// FromContext returns the request-scoped logger, or a default stderr logger
// when none was attached.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*Logger); ok {
		return logger
	}
	return New(InfoLevel, os.Stderr)
}

// WithContext attaches the logger to a context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}
