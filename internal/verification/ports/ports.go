// Package ports defines the collaborators of the verification pipeline.
package ports

import (
	"context"
	"time"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	audit "agegate/pkg/platform/audit"
)

// SubjectStore persists verification subjects. FindByID returns
// sentinel.ErrNotFound for unknown subjects. Save returns
// sentinel.ErrConflict when the stored version is not subject.Version;
// on success it increments subject.Version.
type SubjectStore interface {
	FindByID(ctx context.Context, id domain.SubjectID) (*models.Subject, error)
	Save(ctx context.Context, subject *models.Subject) error
}

// PhotoStore keeps uploaded ID photos under opaque keys.
type PhotoStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TextExtractor is the OCR engine.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// BotScorer is the bot-detection oracle.
type BotScorer interface {
	Verify(ctx context.Context, token, remoteIP string) (models.BotVerdict, error)
}

// RateLimiter throttles submissions per caller and endpoint.
type RateLimiter interface {
	AllowRequest(ctx context.Context, caller, endpoint string) bool
}

// Monitor receives one record per verification outcome.
type Monitor interface {
	RecordSuccess(ctx context.Context, subjectID string, age int)
	RecordFailure(ctx context.Context, subjectID, reason string)
	RecordRateLimitExceeded(ctx context.Context, ip string)
	RecordBotFailure(ctx context.Context, ip string, score float64)
}

// AuditPublisher records audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Locker serialises submissions for one subject. Acquire returns false
// without error when another holder has the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
