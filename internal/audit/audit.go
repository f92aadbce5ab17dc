// Package audit appends one record per graph-export invocation and per
// permission denial, keyed by tenant, caller, and outcome. Records are
// consumed externally for compliance review; this package only guarantees
// the record is emitted exactly once per request, never skipped on the
// success path.
package audit

import (
	"log/slog"
	"time"
)

// Logger writes audit records through a structured logger.
type Logger struct {
	log *slog.Logger
}

// New creates an audit logger. A nil slog.Logger disables output but keeps
// call sites unconditional.
func New(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log.With("channel", "audit")}
}

// GraphExport records one export invocation.
func (l *Logger) GraphExport(tenant, subject, method string, includeObservations bool, outcome string, dur time.Duration) {
	l.log.Info("graph export",
		"tenant", tenant,
		"subject", subject,
		"auth_method", method,
		"include_observations", includeObservations,
		"outcome", outcome,
		"duration_ms", dur.Milliseconds(),
	)
}

// Denied records one permission denial.
func (l *Logger) Denied(tenant, subject, operation, reason string) {
	l.log.Warn("permission denied",
		"tenant", tenant,
		"subject", subject,
		"operation", operation,
		"reason", reason,
	)
}
