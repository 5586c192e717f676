// Package logging is a small structured JSON logger with trace correlation.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/badya367/taskmanager/internal/tracing"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

func (l LogLevel) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	case LevelFatal:
		return 4
	}
	return 1
}

// ParseLevel maps a config string to a level. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return l
	case "warning":
		return LevelWarn
	}
	return LevelInfo
}

// LogEntry is one structured log line.
type LogEntry struct {
	Time      time.Time      `json:"time"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"msg"`
	Service   string         `json:"service,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
	TaskID    int64          `json:"task_id,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`

	logger *Logger
}

// Logger writes JSON lines for one service.
type Logger struct {
	mu       sync.Mutex
	service  string
	out      io.Writer
	minLevel LogLevel
}

// New creates a logger for service writing to stdout at info level.
func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout, minLevel: LevelInfo}
}

// SetOutput redirects the logger. Tests use it to capture lines.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// SetLevel drops entries below level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

func (l *Logger) Service() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.service
}

func (l *Logger) newEntry(fields map[string]any) *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.Service(),
		Fields:  fields,
		logger:  l,
	}
}

// WithContext starts an entry carrying the trace and span ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.newEntry(make(map[string]any))
	e.TraceID = tracing.GetTraceID(ctx)
	e.SpanID = tracing.GetSpanID(ctx)
	return e
}

func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.newEntry(fields)
}

func (l *Logger) Plain() *LogEntry {
	return l.newEntry(make(map[string]any))
}

func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

func (e *LogEntry) WithTask(id int64) *LogEntry {
	e.TaskID = id
	return e
}

func (e *LogEntry) WithTopic(topic string) *LogEntry {
	e.Topic = topic
	return e
}

func (e *LogEntry) WithMessage(id string) *LogEntry {
	e.MessageID = id
	return e
}

func (e *LogEntry) WithAttempt(n int) *LogEntry {
	e.Attempt = n
	return e
}

func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds err under the "error" field. A nil err is ignored.
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.log(LevelDebug, message) }

func (e *LogEntry) Debugf(format string, args ...any) { e.log(LevelDebug, fmt.Sprintf(format, args...)) }

func (e *LogEntry) Info(message string) { e.log(LevelInfo, message) }

func (e *LogEntry) Infof(format string, args ...any) { e.log(LevelInfo, fmt.Sprintf(format, args...)) }

func (e *LogEntry) Warn(message string) { e.log(LevelWarn, message) }

func (e *LogEntry) Warnf(format string, args ...any) { e.log(LevelWarn, fmt.Sprintf(format, args...)) }

func (e *LogEntry) Error(message string) { e.log(LevelError, message) }

func (e *LogEntry) Errorf(format string, args ...any) { e.log(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs and exits the process.
func (e *LogEntry) Fatal(message string) {
	e.log(LevelFatal, message)
	os.Exit(1)
}

func (e *LogEntry) Fatalf(format string, args ...any) {
	e.log(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (e *LogEntry) log(level LogLevel, message string) {
	e.Level = level
	e.Message = message
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	l.write(e)
}

func (l *Logger) write(e *LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Level.rank() < l.minLevel.rank() {
		return
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(l.out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}
	data = append(data, '\n')
	_, _ = l.out.Write(data)
}

var defaultLogger = New("taskmanager")

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService renames the default logger, normally once in main.
func SetDefaultService(service string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.service = service
}

// SetDefaultLevel sets the minimum level of the default logger.
func SetDefaultLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
}
