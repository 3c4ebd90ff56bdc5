package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agegate/pkg/requestcontext"
)

type AuthMiddlewareSuite struct {
	suite.Suite
	validator *HMACValidator
	logger    *slog.Logger
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	v, err := NewHMACValidator([]byte("test-signing-key"), "agegate", "agegate-admin")
	s.Require().NoError(err)
	s.validator = v
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AuthMiddlewareSuite) serve(token string, roles ...string) (*httptest.ResponseRecorder, *requestcontext.Actor) {
	var seen *requestcontext.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := requestcontext.ActorFrom(r.Context()); ok {
			seen = &a
		}
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(s.validator, s.logger)(RequireRole(s.logger, roles...)(next))

	req := httptest.NewRequest(http.MethodGet, "/admin/verification/metrics", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, seen
}

func (s *AuthMiddlewareSuite) TestRequireAuth() {
	s.Run("missing header is unauthorized", func() {
		w, _ := s.serve("", "admin")
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("garbage token is unauthorized", func() {
		w, _ := s.serve("not-a-jwt", "admin")
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("expired token is unauthorized", func() {
		token, err := s.validator.Sign("ops-1", []string{"admin"}, time.Now().Add(-2*time.Hour), time.Hour)
		s.Require().NoError(err)
		w, _ := s.serve(token, "admin")
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("token signed with another key is unauthorized", func() {
		other, err := NewHMACValidator([]byte("other-key"), "agegate", "agegate-admin")
		s.Require().NoError(err)
		token, err := other.Sign("ops-1", []string{"admin"}, time.Now(), time.Hour)
		s.Require().NoError(err)
		w, _ := s.serve(token, "admin")
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *AuthMiddlewareSuite) TestRequireRole() {
	s.Run("matching role passes and exposes actor", func() {
		token, err := s.validator.Sign("ops-1", []string{"admin"}, time.Now(), time.Hour)
		s.Require().NoError(err)
		w, actor := s.serve(token, "admin")
		s.Equal(http.StatusNoContent, w.Code)
		s.Require().NotNil(actor)
		s.Equal("ops-1", actor.Subject)
	})

	s.Run("missing role is forbidden", func() {
		token, err := s.validator.Sign("profile-service", []string{"service"}, time.Now(), time.Hour)
		s.Require().NoError(err)
		w, _ := s.serve(token, "admin")
		s.Equal(http.StatusForbidden, w.Code)
	})
}
