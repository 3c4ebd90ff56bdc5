package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeNotFound, "subject not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeConflict, "busy"))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("matches nested domain errors", func(t *testing.T) {
		inner := New(CodeTooManyRequests, "slow down")
		outer := Wrap(inner, CodeForbidden, "blocked")
		assert.True(t, HasCode(outer, CodeForbidden))
		assert.True(t, HasCode(outer, CodeTooManyRequests))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestGetCodeAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "store unavailable")

	assert.Equal(t, CodeUnavailable, GetCode(err))
	assert.Equal(t, "store unavailable", Message(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unavailable: connection refused", err.Error())

	assert.Equal(t, CodeInternal, GetCode(errors.New("boom")))
	assert.Equal(t, "internal error", Message(errors.New("boom")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:         http.StatusBadRequest,
		CodeValidation:         http.StatusBadRequest,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeForbidden:          http.StatusForbidden,
		CodeNotFound:           http.StatusNotFound,
		CodeConflict:           http.StatusConflict,
		CodeTooManyRequests:    http.StatusTooManyRequests,
		CodeUnavailable:        http.StatusServiceUnavailable,
		CodeInvariantViolation: http.StatusInternalServerError,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), code)
	}
}
