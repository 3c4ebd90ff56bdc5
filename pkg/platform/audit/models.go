package audit

import (
	"context"
	"time"

	"agegate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers verification decisions. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers abuse signals such as rate limiting, bot
	// rejections and anti-spoofing token mismatches.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity and alerts.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string           `json:"id,omitempty"`
	Category  EventCategory    `json:"category"`
	Timestamp time.Time        `json:"timestamp"`
	SubjectID domain.SubjectID `json:"subject_id"`
	Action    string           `json:"action"`
	Decision  string           `json:"decision,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	// ActorID is the operator or service acting on the subject's behalf.
	ActorID string `json:"actor_id,omitempty"`
	// ClientIPPrefix is the anonymized caller network, never the raw address.
	ClientIPPrefix    string `json:"client_ip_prefix,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

type AuditEvent string

const (
	EventVerificationTokenIssued AuditEvent = "verification_token_issued"
	EventVerificationStarted     AuditEvent = "verification_started"
	EventVerificationApproved    AuditEvent = "verification_approved"
	EventVerificationRejected    AuditEvent = "verification_rejected"
	EventVerificationFailed      AuditEvent = "verification_failed"

	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventBotSuspected      AuditEvent = "bot_suspected"
	EventTokenMismatch     AuditEvent = "verification_token_mismatch"
	EventInvalidImage      AuditEvent = "invalid_image_submitted"

	EventMonitoringAlert AuditEvent = "monitoring_alert"
	EventMonitoringReset AuditEvent = "monitoring_reset"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationApproved: CategoryCompliance,
	EventVerificationRejected: CategoryCompliance,
	EventVerificationFailed:   CategoryCompliance,

	EventRateLimitExceeded: CategorySecurity,
	EventBotSuspected:      CategorySecurity,
	EventTokenMismatch:     CategorySecurity,
	EventInvalidImage:      CategorySecurity,

	EventVerificationTokenIssued: CategoryOperations,
	EventVerificationStarted:     CategoryOperations,
	EventMonitoringAlert:         CategoryOperations,
	EventMonitoringReset:         CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
