package models

import (
	"strings"
	"time"
)

// EndpointVerifyID is the operation name used for ID photo submissions.
const EndpointVerifyID = "verify_id"

// NewKey composes the limiter key from caller identity and operation name.
// Segments are sanitized so a caller cannot forge a neighbouring key.
func NewKey(caller, endpoint string) string {
	return SanitizeKeySegment(caller) + ":" + SanitizeKeySegment(endpoint)
}

// SanitizeKeySegment escapes the ':' delimiter inside a key segment.
// An identifier "ip:admin" becomes "ip_admin".
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Window is the state of one fixed window as reported by a WindowStore.
type Window struct {
	Count int
	Start time.Time
}

// RateLimitResult is the outcome of one limiter check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the 429 body written by the HTTP middleware.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
