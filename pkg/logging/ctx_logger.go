package logging

import (
	"context"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
	messageIDKey     contextKey = "message_id"
)

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context.
// Returns a no-op logger if not found.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// WithCorrelationID tags every *WithContext log line emitted under ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithMessageID tags log lines with the id of the message being processed.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (useful for tests or when logger is not available).
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, fields ...Field) {}
func (n *noOpLogger) Info(msg string, fields ...Field) {}
func (n *noOpLogger) Warn(msg string, fields ...Field) {}
func (n *noOpLogger) Error(msg string, fields ...Field) {}
func (n *noOpLogger) Fatal(msg string, fields ...Field) {}
func (n *noOpLogger) DebugWithContext(ctx context.Context, msg string, fields ...Field) {}
func (n *noOpLogger) InfoWithContext(ctx context.Context, msg string, fields ...Field) {}
func (n *noOpLogger) WarnWithContext(ctx context.Context, msg string, fields ...Field) {}
func (n *noOpLogger) ErrorWithContext(ctx context.Context, msg string, fields ...Field) {}
func (n *noOpLogger) InfofWithContext(ctx context.Context, format string, args ...interface{}) {}
func (n *noOpLogger) With(fields ...Field) Logger { return n }
func (n *noOpLogger) WithError(err error) Logger { return n }
