package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agegate/pkg/domain"
	dErrors "agegate/pkg/domain-errors"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSubjectTransitions(t *testing.T) {
	birth := time.Date(1960, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("new subject is pending", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		assert.Equal(t, StatusPending, s.Status)
		assert.False(t, s.Status.IsDecided())
		assert.True(t, s.Consistent(60))
	})

	t.Run("approve keeps birthdate and age", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		s.StartProcessing(now)
		s.Approve(birth, 64, now)

		assert.Equal(t, StatusApproved, s.Status)
		require.NotNil(t, s.Age)
		assert.Equal(t, 64, *s.Age)
		require.NotNil(t, s.VerifiedAt)
		assert.Empty(t, s.FailureReason)
		assert.True(t, s.Consistent(60))
		assert.False(t, s.Consistent(65))
	})

	t.Run("reject records the reason", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		s.Reject(birth, 59, "Age requirement not met. Minimum: 60, Your age: 59", now)

		assert.Equal(t, StatusRejected, s.Status)
		assert.Contains(t, s.FailureReason, "59")
		assert.True(t, s.Consistent(60))
	})

	t.Run("fail drops any previous birthdate", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		s.Approve(birth, 64, now)
		s.Fail("Photo too blurry", now)

		assert.Equal(t, StatusFailed, s.Status)
		assert.Nil(t, s.Birthdate)
		assert.Nil(t, s.Age)
		assert.Nil(t, s.VerifiedAt)
		assert.True(t, s.Consistent(60))
	})

	t.Run("start processing clears the previous outcome", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		s.Reject(birth, 59, "too young", now)
		s.StartProcessing(now.Add(time.Minute))

		assert.Equal(t, StatusProcessing, s.Status)
		assert.Nil(t, s.Age)
		assert.Empty(t, s.FailureReason)
		assert.Equal(t, now.Add(time.Minute), s.UpdatedAt)
	})

	t.Run("revoke clears the token hash", func(t *testing.T) {
		s := NewSubject(domain.NewSubjectID(), now)
		s.TokenHash = "hash"
		s.RevokeToken()
		assert.Empty(t, s.TokenHash)
	})
}

func TestStatusValidity(t *testing.T) {
	for _, st := range []Status{StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusFailed} {
		assert.True(t, st.IsValid(), st)
	}
	assert.False(t, Status("VERIFIED").IsValid())
	assert.False(t, StatusProcessing.IsDecided())
}

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind         Kind
		code         dErrors.Code
		precondition bool
	}{
		{KindRateLimited, dErrors.CodeTooManyRequests, true},
		{KindBotSuspected, dErrors.CodeForbidden, true},
		{KindInvalidToken, dErrors.CodeForbidden, true},
		{KindInvalidImage, dErrors.CodeValidation, true},
		{KindQualityFailed, dErrors.CodeInvalidInput, false},
		{KindExtractionFailed, dErrors.CodeInvalidInput, false},
		{KindAgeRejected, dErrors.CodeInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.Code())
			assert.Equal(t, tt.precondition, tt.kind.Precondition())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewError(KindInvalidToken, "Invalid verification token"))

	assert.True(t, IsKind(err, KindInvalidToken))
	assert.False(t, IsKind(err, KindBotSuspected))
	assert.Equal(t, KindInvalidToken, KindOf(err))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	assert.Equal(t, "Invalid verification token", errors.Unwrap(err).Error())

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
