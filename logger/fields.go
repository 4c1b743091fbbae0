package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID     = "run_id"
	FieldComponent = "component"
	FieldAdapter   = "adapter"

	// Operations
	FieldOperation = "operation"
	FieldPath      = "path"
	FieldFormat    = "format"

	// Layers and arrays
	FieldLayer      = "layer"
	FieldLayerKind  = "layer_kind"
	FieldShape      = "shape"
	FieldChunks     = "chunks"
	FieldDType      = "dtype"
	FieldCompressor = "compressor"
	FieldLevel      = "level"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors and findings
	FieldError    = "error"
	FieldCode     = "code"
	FieldSeverity = "severity"

	// Counts and sizes
	FieldCount = "count"
	FieldBytes = "bytes"
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a conversion/validation run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// RunIDFromContext returns the run ID stored in ctx, if any
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	w := ngff.NewWriter(st, logger.ComponentLogger("ngff.writer"), rec)
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
