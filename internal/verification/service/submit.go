package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"agegate/internal/birthdate"
	"agegate/internal/imagequality"
	rlmodels "agegate/internal/ratelimit/models"
	"agegate/internal/verification/models"
	dErrors "agegate/pkg/domain-errors"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/auditlog"
	"agegate/pkg/requestcontext"
)

// Submit runs one verification attempt. Precondition failures return a
// *models.Error and leave the subject untouched. Quality, extraction and age
// outcomes return a Result with a nil error. If the decided outcome cannot
// be saved the Result is still returned alongside an internal error.
func (s *Service) Submit(ctx context.Context, sub models.Submission) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Submit",
		trace.WithAttributes(attribute.String("subject_id", sub.SubjectID.String())))
	defer span.End()

	result, err := s.submit(ctx, sub)
	if result != nil {
		span.SetAttributes(attribute.String("status", string(result.Status)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *Service) submit(ctx context.Context, sub models.Submission) (*models.Result, error) {
	if sub.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	subjectID := sub.SubjectID.String()

	if !s.limiter.AllowRequest(ctx, sub.CallerKey, rlmodels.EndpointVerifyID) {
		s.monitor.RecordRateLimitExceeded(ctx, sub.ClientIP)
		s.metrics.RecordRejection(string(models.KindRateLimited))
		s.logger.WarnContext(ctx, "verification rate limited", "subject_id", subjectID)
		return nil, models.NewError(models.KindRateLimited, ReasonRateLimited)
	}

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, "verification:"+subjectID, s.cfg.SubjectLockTTL)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "subject lock unavailable; continuing without it",
				"subject_id", subjectID,
				"error", err,
			)
		case !acquired:
			return nil, dErrors.New(dErrors.CodeConflict, "a verification for this subject is already in progress")
		default:
			defer release()
		}
	}

	// Load under the lock so a concurrent resubmission that just finished is
	// seen at its saved version.
	subject, err := s.subjects.FindByID(ctx, sub.SubjectID)
	if err != nil {
		return nil, s.storeError(err, "failed to load verification subject")
	}
	if subject.Status == models.StatusApproved && !s.cfg.AllowResubmitAfterApproval {
		return nil, dErrors.New(dErrors.CodeConflict, "subject is already verified")
	}

	if verr, score := s.checkBot(ctx, sub); verr != nil {
		s.monitor.RecordBotFailure(ctx, sub.ClientIP, score)
		return nil, s.reject(ctx, subjectID, verr, audit.EventBotSuspected)
	}

	if verr := s.checkToken(ctx, subject, sub.Token); verr != nil {
		s.monitor.RecordFailure(ctx, subjectID, verr.Reason)
		return nil, s.reject(ctx, subjectID, verr, audit.EventTokenMismatch)
	}

	front, verr := s.validatePhoto(models.SideFront, sub.Front)
	if verr != nil {
		s.monitor.RecordFailure(ctx, subjectID, verr.Reason)
		return nil, s.reject(ctx, subjectID, verr, audit.EventInvalidImage)
	}
	var back *validPhoto
	if !sub.Back.Empty() {
		if back, verr = s.validatePhoto(models.SideBack, sub.Back); verr != nil {
			s.monitor.RecordFailure(ctx, subjectID, verr.Reason)
			return nil, s.reject(ctx, subjectID, verr, audit.EventInvalidImage)
		}
	}

	now := requestcontext.Now(ctx)
	subject.StartProcessing(now)
	if err := s.storePhotos(ctx, subject, front, back, now); err != nil {
		return nil, err
	}
	if err := s.subjects.Save(ctx, subject); err != nil {
		return nil, s.storeError(err, "failed to save verification subject")
	}
	auditlog.Log(ctx, s.logger, s.auditor, audit.EventVerificationStarted, "subject_id", subjectID)

	if !s.qualityAcceptable(ctx, front, back) {
		subject.Fail(ReasonBlurry, now)
		return s.finish(ctx, subject, models.KindQualityFailed)
	}

	match, ok := s.extractBirthdate(ctx, front.data)
	if !ok {
		subject.Fail(ReasonExtraction, now)
		return s.finish(ctx, subject, models.KindExtractionFailed)
	}

	age := birthdate.Age(match.Date, now)
	var kind models.Kind
	if age >= s.cfg.MinimumAge {
		subject.Approve(match.Date, age, now)
	} else {
		subject.Reject(match.Date, age,
			fmt.Sprintf("Age requirement not met. Minimum: %d, Your age: %d", s.cfg.MinimumAge, age), now)
		kind = models.KindAgeRejected
	}
	subject.RevokeToken()
	return s.finish(ctx, subject, kind)
}

// reject records a precondition failure. The subject is not modified.
func (s *Service) reject(ctx context.Context, subjectID string, verr *models.Error, event audit.AuditEvent) error {
	s.metrics.RecordRejection(string(verr.Kind))
	auditlog.Log(ctx, s.logger, s.auditor, event,
		"subject_id", subjectID,
		"decision", string(verr.Kind),
		"reason", verr.Reason,
	)
	return verr
}

// qualityAcceptable scores the front and back photos concurrently. Either
// one passing is enough.
func (s *Service) qualityAcceptable(ctx context.Context, front, back *validPhoto) bool {
	ctx, end := s.stage(ctx, "quality")
	defer end()

	var frontScore, backScore float64
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		frontScore = imagequality.Score(front.img)
		return nil
	})
	if back != nil {
		g.Go(func() error {
			backScore = imagequality.Score(back.img)
			return nil
		})
	}
	_ = g.Wait()

	threshold := s.analyzer.Threshold()
	s.metrics.ObserveQualityScore(frontScore)
	if back != nil {
		s.metrics.ObserveQualityScore(backScore)
	}

	s.logger.DebugContext(ctx, "photo quality scored",
		"front_score", frontScore,
		"back_score", backScore,
		"threshold", threshold,
	)
	return frontScore >= threshold || (back != nil && backScore >= threshold)
}

func (s *Service) extractBirthdate(ctx context.Context, frontPhoto []byte) (birthdate.Match, bool) {
	ctx, end := s.stage(ctx, "extraction")
	defer end()

	text, err := s.ocr.ExtractText(ctx, frontPhoto)
	if err != nil {
		s.logger.WarnContext(ctx, "OCR failed", "error", err)
		return birthdate.Match{}, false
	}
	return s.dates.Extract(ctx, text)
}

// finish persists a decided subject, then reports the outcome to the
// monitor, the audit trail and metrics. A save failure does not change the
// returned decision.
func (s *Service) finish(ctx context.Context, subject *models.Subject, kind models.Kind) (*models.Result, error) {
	subjectID := subject.ID.String()
	result := &models.Result{
		SubjectID: subject.ID,
		Status:    subject.Status,
		Reason:    subject.FailureReason,
		Kind:      kind,
		Age:       subject.Age,
		Birthdate: subject.Birthdate,
	}

	var saveErr error
	if err := s.subjects.Save(ctx, subject); err != nil {
		s.metrics.IncrementPersistErrors()
		s.logger.ErrorContext(ctx, "failed to persist verification outcome",
			"subject_id", subjectID,
			"status", string(subject.Status),
			"error", err,
		)
		saveErr = dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification outcome")
	}

	event := audit.EventVerificationFailed
	switch subject.Status {
	case models.StatusApproved:
		event = audit.EventVerificationApproved
		s.monitor.RecordSuccess(ctx, subjectID, *subject.Age)
	case models.StatusRejected:
		event = audit.EventVerificationRejected
		s.monitor.RecordFailure(ctx, subjectID, subject.FailureReason)
	default:
		s.monitor.RecordFailure(ctx, subjectID, subject.FailureReason)
	}
	auditlog.Log(ctx, s.logger, s.auditor, event,
		"subject_id", subjectID,
		"decision", string(subject.Status),
		"reason", subject.FailureReason,
	)
	s.metrics.RecordOutcome(string(subject.Status))

	return result, saveErr
}
