package models

import (
	"time"

	"agegate/pkg/domain"
)

// Status is the verification state of a subject.
//
//	PENDING → PROCESSING → APPROVED | REJECTED | FAILED
//
// A resubmission moves any state back to PROCESSING.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsDecided reports whether the pipeline has finished with this status.
func (s Status) IsDecided() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFailed
}

// Side identifies which face of the ID card a photo shows.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Label is the capitalised side used in user-facing reasons.
func (s Side) Label() string {
	if s == SideBack {
		return "Back"
	}
	return "Front"
}

// Subject is the account being verified.
type Subject struct {
	ID     domain.SubjectID
	Status Status
	// TokenHash is the bcrypt hash of the anti-spoofing token. Empty once
	// the token has been consumed or before one is issued.
	TokenHash     string
	Birthdate     *time.Time
	Age           *int
	FailureReason string
	VerifiedAt    *time.Time
	FrontPhotoKey string
	BackPhotoKey  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Version increments on every save and guards concurrent writers.
	Version int64
}

// NewSubject returns a PENDING subject.
func NewSubject(id domain.SubjectID, now time.Time) *Subject {
	return &Subject{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StartProcessing clears the previous outcome so the pipeline recomputes it.
func (s *Subject) StartProcessing(now time.Time) {
	s.Status = StatusProcessing
	s.Birthdate = nil
	s.Age = nil
	s.VerifiedAt = nil
	s.FailureReason = ""
	s.UpdatedAt = now
}

func (s *Subject) Approve(birthdate time.Time, age int, now time.Time) {
	s.Status = StatusApproved
	s.Birthdate = &birthdate
	s.Age = &age
	s.VerifiedAt = &now
	s.FailureReason = ""
	s.UpdatedAt = now
}

func (s *Subject) Reject(birthdate time.Time, age int, reason string, now time.Time) {
	s.Status = StatusRejected
	s.Birthdate = &birthdate
	s.Age = &age
	s.VerifiedAt = &now
	s.FailureReason = reason
	s.UpdatedAt = now
}

// Fail records a quality or extraction failure. No birthdate is kept.
func (s *Subject) Fail(reason string, now time.Time) {
	s.Status = StatusFailed
	s.Birthdate = nil
	s.Age = nil
	s.VerifiedAt = nil
	s.FailureReason = reason
	s.UpdatedAt = now
}

// RevokeToken consumes the anti-spoofing token.
func (s *Subject) RevokeToken() {
	s.TokenHash = ""
}

// Consistent reports whether the decided state agrees with the stored age.
func (s *Subject) Consistent(minimumAge int) bool {
	switch s.Status {
	case StatusApproved:
		return s.Age != nil && *s.Age >= minimumAge && s.Birthdate != nil
	case StatusRejected:
		return s.Age != nil && *s.Age < minimumAge && s.Birthdate != nil
	case StatusFailed:
		return s.Birthdate == nil && s.FailureReason != ""
	}
	return true
}

// Photo is one uploaded ID image.
type Photo struct {
	Data     []byte
	Filename string
}

func (p Photo) Empty() bool { return len(p.Data) == 0 }

// Submission is one verification attempt.
type Submission struct {
	SubjectID domain.SubjectID
	Front     Photo
	Back      Photo
	// Token is the anti-spoofing token issued at profile completion. Optional.
	Token    string
	BotToken string
	// CallerKey identifies the caller for rate limiting, usually the client IP.
	CallerKey string
	ClientIP  string
}

// Result is the outcome of a submission that reached the pipeline.
type Result struct {
	SubjectID domain.SubjectID
	Status    Status
	Reason    string
	Kind      Kind
	Age       *int
	Birthdate *time.Time
}

// BotVerdict is the bot-score oracle's answer.
type BotVerdict struct {
	Success bool
	Score   float64
	Action  string
}
