// Package auditlog writes an audit line to the structured logger and emits
// the matching event to the audit publisher in one call.
package auditlog

import (
	"context"
	"log/slog"

	"agegate/pkg/attrs"
	"agegate/pkg/domain"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/privacy"
	"agegate/pkg/requestcontext"
)

// Emitter is satisfied by *publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Log records event on logger and emitter. Either may be nil. Recognised
// attribute keys: "subject_id", "reason", "decision", "actor_id".
func Log(ctx context.Context, logger *slog.Logger, emitter Emitter, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if logger != nil {
		args := append(attrList, "event", string(event), "log_type", "audit")
		logger.InfoContext(ctx, string(event), args...)
	}

	if emitter == nil {
		return
	}

	var subjectID domain.SubjectID
	if raw := attrs.ExtractString(attrList, "subject_id"); raw != "" {
		if parsed, err := domain.ParseSubjectID(raw); err == nil {
			subjectID = parsed
		}
	}

	actorID := attrs.ExtractString(attrList, "actor_id")
	if actorID == "" {
		if actor, ok := requestcontext.ActorFrom(ctx); ok {
			actorID = actor.Subject
		}
	}

	err := emitter.Emit(ctx, audit.Event{
		Action:            string(event),
		SubjectID:         subjectID,
		Decision:          attrs.ExtractString(attrList, "decision"),
		Reason:            attrs.ExtractString(attrList, "reason"),
		RequestID:         requestID,
		ActorID:           actorID,
		ClientIPPrefix:    privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
		DeviceFingerprint: requestcontext.DeviceFingerprint(ctx),
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
