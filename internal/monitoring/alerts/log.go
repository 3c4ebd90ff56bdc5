// Package alerts delivers monitoring alerts to operators.
package alerts

import (
	"context"
	"log/slog"

	"agegate/internal/monitoring"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/auditlog"
)

// LogSink writes each alert as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("log_type", "alert")}
}

func (s *LogSink) Notify(ctx context.Context, a monitoring.Alert) {
	level := slog.LevelWarn
	if a.Severity == monitoring.SeverityCritical {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, a.Message,
		"alert_kind", string(a.Kind),
		"severity", string(a.Severity),
		"total_attempts", a.Snapshot.TotalAttempts,
		"failure_rate", a.Snapshot.FailureRate,
		"consecutive_failures", a.Snapshot.ConsecutiveFailures,
	)
}

// AuditSink records critical alerts in the audit trail.
type AuditSink struct {
	emitter auditlog.Emitter
}

func NewAuditSink(emitter auditlog.Emitter) *AuditSink {
	return &AuditSink{emitter: emitter}
}

func (s *AuditSink) Notify(ctx context.Context, a monitoring.Alert) {
	if a.Severity != monitoring.SeverityCritical {
		return
	}
	auditlog.Log(ctx, nil, s.emitter, audit.EventMonitoringAlert,
		"reason", a.Message,
		"decision", string(a.Kind),
	)
}
