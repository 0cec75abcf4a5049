// Package logger provides the structured logging capability used across the S2S trust layer.
// Concrete implementations live in internal/infrastructure/monitoring; this package only
// defines the narrow interface so every component can be tested with a no-op or recording logger.
package logger

import (
	"context"
	"time"
)

// ================================================================================
// Logger Interface
// ================================================================================

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, msg string, fields ...Fields)

	// Info logs an informational message
	Info(ctx context.Context, msg string, fields ...Fields)

	// Warn logs a warning message
	Warn(ctx context.Context, msg string, fields ...Fields)

	// Error logs an error message
	Error(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields creates a new logger with additional base fields
	WithFields(fields Fields) Logger

	// WithComponent creates a new logger tagged with a component name
	WithComponent(component string) Logger
}

// ================================================================================
// Field Helpers
// ================================================================================

// String creates a single-entry Fields
func String(key, value string) Fields {
	return Fields{key: value}
}

// Int creates a single-entry Fields
func Int(key string, value int) Fields {
	return Fields{key: value}
}

// Int64 creates a single-entry Fields
func Int64(key string, value int64) Fields {
	return Fields{key: value}
}

// Bool creates a single-entry Fields
func Bool(key string, value bool) Fields {
	return Fields{key: value}
}

// Duration creates a duration_ms field
func Duration(d time.Duration) Fields {
	return Fields{"duration_ms": d.Milliseconds()}
}

// Merge flattens several Fields into one. Later keys win.
func Merge(fields ...Fields) Fields {
	out := Fields{}
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}
