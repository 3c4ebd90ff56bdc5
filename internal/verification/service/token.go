package service

import (
	"context"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	dErrors "agegate/pkg/domain-errors"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/auditlog"
	"agegate/pkg/platform/sentinel"
	"agegate/pkg/requestcontext"
)

// IssueToken returns a fresh anti-spoofing token for the subject, creating
// a PENDING subject on first use. Any earlier token stops working. Only the
// bcrypt hash is stored.
func (s *Service) IssueToken(ctx context.Context, id domain.SubjectID) (string, *models.Subject, error) {
	if id.IsNil() {
		return "", nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	now := requestcontext.Now(ctx)

	subject, err := s.subjects.FindByID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		subject = models.NewSubject(id, now)
	case err != nil:
		return "", nil, s.storeError(err, "failed to load verification subject")
	}
	if subject.Status == models.StatusApproved && !s.cfg.AllowResubmitAfterApproval {
		return "", nil, dErrors.New(dErrors.CodeConflict, "subject is already verified")
	}

	token := rand.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.cfg.TokenHashCost)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash verification token")
	}
	subject.TokenHash = string(hash)
	subject.UpdatedAt = now

	if err := s.subjects.Save(ctx, subject); err != nil {
		return "", nil, s.storeError(err, "failed to save verification subject")
	}

	s.metrics.IncrementTokensIssued()
	auditlog.Log(ctx, s.logger, s.auditor, audit.EventVerificationTokenIssued, "subject_id", id.String())
	return token, subject, nil
}

// checkToken compares the supplied token with the issued one. An absent
// token is accepted for older clients.
func (s *Service) checkToken(ctx context.Context, subject *models.Subject, token string) *models.Error {
	if token == "" {
		s.logger.WarnContext(ctx, "submission without verification token",
			"subject_id", subject.ID.String(),
		)
		return nil
	}
	if subject.TokenHash == "" {
		return models.NewError(models.KindInvalidToken, ReasonBadToken)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(subject.TokenHash), []byte(token)); err != nil {
		return models.NewError(models.KindInvalidToken, ReasonBadToken)
	}
	return nil
}
