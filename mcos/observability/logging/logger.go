// Package logging provides structured logging utilities for the mcos packages.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// nowFunc is swapped in tests to produce stable timestamps.
var nowFunc = time.Now

// Logger provides structured logging with bound fields and context support.
// It is a thin layer over slog so components can carry component/chat scoped
// fields without re-stating them at every call site.
type Logger struct {
	mu      sync.RWMutex
	handler slog.Handler
	fields  []slog.Attr
}

// Default logger instance, JSON to stdout.
var defaultLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	defaultLogger = NewLogger(handler)
}

// NewLogger creates a new logger with the given handler. A nil handler falls
// back to a JSON handler on stdout at Info level.
func NewLogger(h slog.Handler) *Logger {
	if h == nil {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{handler: h}
}

// Default returns the process-wide default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// WithField returns a new logger with an additional bound field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields returns a new logger with additional bound fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	l.mu.RLock()
	bound := append([]slog.Attr(nil), l.fields...)
	l.mu.RUnlock()
	for k, v := range fields {
		bound = append(bound, slog.Any(k, v))
	}
	return &Logger{handler: l.handler, fields: bound}
}

// Debug logs a debug message with key-value args.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs an info message with key-value args.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs a warning message with key-value args.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs an error message with key-value args.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}

	record := slog.NewRecord(nowFunc(), level, msg, 0)
	l.mu.RLock()
	record.AddAttrs(l.fields...)
	l.mu.RUnlock()

	// Variadic args are alternating key-value pairs, slog style.
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		record.AddAttrs(slog.Any(key, args[i+1]))
	}

	_ = l.handler.Handle(context.Background(), record)
}

type loggerKey struct{}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// ToContext adds the logger to context.
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}
