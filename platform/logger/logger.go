// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// LeadIDKey is the context key for the lead being processed
	LeadIDKey contextKey = "lead_id"
	// TenantIDKey is the context key for the owning tenant
	TenantIDKey contextKey = "tenant_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "test") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter("production", io.Discard)
}

// WithContext returns a logger with context values extracted.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l
	for _, key := range []contextKey{RequestIDKey, LeadIDKey, TenantIDKey} {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			newLogger = &Logger{Logger: newLogger.With(slog.String(string(key), value))}
		}
	}

	return newLogger
}

// WithLead returns a logger scoped to one lead of one tenant.
func (l *Logger) WithLead(leadID, tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("lead_id", leadID), slog.String("tenant_id", tenantID)),
	}
}

// ComplianceDecision logs the outcome of a gatekeeper evaluation.
func (l *Logger) ComplianceDecision(phase string, allowed bool, rule, reason string) {
	if allowed {
		l.Debug("compliance_decision",
			slog.String("phase", phase),
			slog.Bool("allowed", true),
		)
		return
	}
	l.Warn("compliance_decision",
		slog.String("phase", phase),
		slog.Bool("allowed", false),
		slog.String("rule", rule),
		slog.String("reason", reason),
	)
}

// StateTransition logs a lead state change.
func (l *Logger) StateTransition(from, to, trigger string) {
	l.Info("state_transition",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("trigger", trigger),
	)
}

// LockContention logs a lock wait that ran out.
func (l *Logger) LockContention(key string, waited time.Duration) {
	l.Warn("lock_timeout",
		slog.String("key", key),
		slog.Float64("waited_ms", float64(waited.Microseconds())/1000),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
