package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the standardized structured logging key for analysis task identifiers.
	FieldTaskID = "task_id"
	// FieldBatchID is the standardized structured logging key for batch identifiers.
	FieldBatchID = "batch_id"
	// FieldTabID is the standardized structured logging key for browser tab identifiers.
	FieldTabID = "tab_id"
	// FieldRunID tags every line emitted by one daemon process.
	FieldRunID = "run_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. "offline_enqueue").
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for WARN and ERROR lines.
	FieldErrorHint = "error_hint"
	// FieldError is the key used by Error.
	FieldError = "error"
)

type contextKey int

const (
	taskIDKey contextKey = iota
	batchIDKey
	requestIDKey
)

// WithTaskID returns a context carrying the task identifier for log tagging.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// WithBatchID returns a context carrying the batch identifier for log tagging.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// WithRequestID returns a context carrying an API request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// TaskIDFromContext returns the task identifier stored in ctx, if any.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, taskIDKey)
}

// RequestIDFromContext returns the request identifier stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, requestIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringFromContext(ctx, taskIDKey); ok {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	if id, ok := stringFromContext(ctx, batchIDKey); ok {
		fields = append(fields, slog.String(FieldBatchID, id))
	}
	if id, ok := stringFromContext(ctx, requestIDKey); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
