package models

import (
	"errors"

	dErrors "agegate/pkg/domain-errors"
)

// Kind classifies a verification failure.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindBotSuspected     Kind = "bot_suspected"
	KindInvalidToken     Kind = "invalid_token"
	KindInvalidImage     Kind = "invalid_image"
	KindQualityFailed    Kind = "quality_failed"
	KindExtractionFailed Kind = "extraction_failed"
	KindAgeRejected      Kind = "age_rejected"
)

// Code maps the kind to the domain error code used for transport.
func (k Kind) Code() dErrors.Code {
	switch k {
	case KindRateLimited:
		return dErrors.CodeTooManyRequests
	case KindBotSuspected, KindInvalidToken:
		return dErrors.CodeForbidden
	case KindInvalidImage:
		return dErrors.CodeValidation
	}
	return dErrors.CodeInvalidInput
}

// Precondition reports whether the kind rejects a submission before the
// subject's state changes.
func (k Kind) Precondition() bool {
	switch k {
	case KindRateLimited, KindBotSuspected, KindInvalidToken, KindInvalidImage:
		return true
	}
	return false
}

// Error is a rejected submission. It unwraps to a domain error carrying the
// kind's code so transport layers can map it without knowing the kind.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: dErrors.New(kind.Code(), reason)}
}

func (e *Error) Error() string { return e.Reason }
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a verification Error of kind.
func IsKind(err error, kind Kind) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == kind
}

// KindOf returns the kind of a verification Error, or "".
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}
