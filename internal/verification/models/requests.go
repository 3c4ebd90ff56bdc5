package models

import "time"

// IssueTokenResponse is returned once at profile completion. The token is
// never stored in plain text.
type IssueTokenResponse struct {
	SubjectID string `json:"subject_id"`
	Token     string `json:"verification_token"`
	Status    Status `json:"status"`
}

// StatusResponse is the public view of a subject's verification.
type StatusResponse struct {
	SubjectID  string     `json:"subject_id"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// SubmitResponse is the body of a completed submission.
type SubmitResponse struct {
	SubjectID string `json:"subject_id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Age       *int   `json:"age,omitempty"`
}

// SubmitForm is the non-file part of the multipart submission.
type SubmitForm struct {
	SubjectID         string `validate:"required,uuid"`
	VerificationToken string `validate:"omitempty,max=256"`
	BotToken          string `validate:"omitempty,max=4096"`
}

func NewStatusResponse(s *Subject) StatusResponse {
	return StatusResponse{
		SubjectID:  s.ID.String(),
		Status:     s.Status,
		Reason:     s.FailureReason,
		VerifiedAt: s.VerifiedAt,
	}
}
