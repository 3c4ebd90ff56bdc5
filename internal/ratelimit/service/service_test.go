package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"agegate/internal/ratelimit/metrics"
	"agegate/internal/ratelimit/models"
	"agegate/internal/ratelimit/store/window"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Time, time.Duration) (models.Window, error) {
	return models.Window{}, errors.New("connection refused")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

type captureEmitter struct {
	events []audit.Event
}

func (c *captureEmitter) Emit(_ context.Context, e audit.Event) error {
	c.events = append(c.events, e)
	return nil
}

type LimiterSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *window.InMemoryWindowStore
	metrics *metrics.Metrics
	audit   *captureEmitter
	limiter *Limiter
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = window.NewInMemoryWindowStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.audit = &captureEmitter{}

	var err error
	s.limiter, err = New(s.store, WithMetrics(s.metrics), WithAuditPublisher(s.audit))
	s.Require().NoError(err)
}

func (s *LimiterSuite) TestNew() {
	s.Run("store is required", func() {
		_, err := New(nil)
		s.Require().Error(err)
	})

	s.Run("defaults", func() {
		s.Equal(10, s.limiter.Limit())
		s.Equal(60*time.Second, s.limiter.Window())
	})

	s.Run("non-positive overrides are ignored", func() {
		l, err := New(s.store, WithLimit(0, -time.Second))
		s.Require().NoError(err)
		s.Equal(DefaultLimit, l.Limit())
		s.Equal(DefaultWindow, l.Window())
	})
}

func (s *LimiterSuite) TestAdmitsExactlyCapPerWindow() {
	key := models.NewKey("ip:198.51.100.7", models.EndpointVerifyID)

	for i := range 10 {
		s.True(s.limiter.Allow(s.ctx, key, s.now.Add(time.Duration(i)*time.Second)), "request %d", i+1)
	}
	s.False(s.limiter.Allow(s.ctx, key, s.now.Add(11*time.Second)), "request 11 must be denied")
	s.False(s.limiter.Allow(s.ctx, key, s.now.Add(60*time.Second)), "window still open at exactly its size")

	s.True(s.limiter.Allow(s.ctx, key, s.now.Add(61*time.Second)), "fresh window after the size elapses")
}

func (s *LimiterSuite) TestBurstAcrossBoundary() {
	key := "burst:verify_id"
	admitted := 0
	if s.limiter.Allow(s.ctx, key, s.now) {
		admitted++
	}
	for range 12 {
		if s.limiter.Allow(s.ctx, key, s.now.Add(59*time.Second)) {
			admitted++
		}
	}
	s.Equal(10, admitted)

	for range 12 {
		if s.limiter.Allow(s.ctx, key, s.now.Add(61*time.Second)) {
			admitted++
		}
	}
	s.Equal(20, admitted, "up to twice the cap inside two seconds across the boundary")
}

func (s *LimiterSuite) TestKeysAreIndependent() {
	a := models.NewKey("user-a", models.EndpointVerifyID)
	b := models.NewKey("user-b", models.EndpointVerifyID)
	for range 10 {
		s.True(s.limiter.Allow(s.ctx, a, s.now))
	}
	s.False(s.limiter.Allow(s.ctx, a, s.now))
	s.True(s.limiter.Allow(s.ctx, b, s.now))
}

func (s *LimiterSuite) TestEmptyKeyAlwaysAllowed() {
	for range 50 {
		s.True(s.limiter.Allow(s.ctx, "", s.now))
	}
	s.Equal(0, s.store.Len())
}

func (s *LimiterSuite) TestStoreErrorFailsOpen() {
	l, err := New(failingStore{}, WithMetrics(s.metrics))
	s.Require().NoError(err)

	for range 20 {
		s.True(l.Allow(s.ctx, "ip:1:verify_id", s.now))
	}
	s.Equal(float64(20), testutil.ToFloat64(s.metrics.RateLimitStoreErrs))
}

func (s *LimiterSuite) TestCheckReportsWindowState() {
	key := "ip:hdr:verify_id"
	res := s.limiter.Check(s.ctx, key, s.now)
	s.True(res.Allowed)
	s.Equal(10, res.Limit)
	s.Equal(9, res.Remaining)
	s.Equal(s.now.Add(time.Minute), res.ResetAt)
	s.Zero(res.RetryAfter)

	for range 9 {
		s.limiter.Check(s.ctx, key, s.now)
	}
	denied := s.limiter.Check(s.ctx, key, s.now.Add(15*time.Second))
	s.False(denied.Allowed)
	s.Equal(0, denied.Remaining)
	s.Equal(45, denied.RetryAfter)
}

func (s *LimiterSuite) TestDenialIsAuditedAndCounted() {
	key := models.NewKey("ip:10.0.0.1", models.EndpointVerifyID)
	for range 11 {
		s.limiter.Allow(s.ctx, key, s.now)
	}

	s.Require().Len(s.audit.events, 1)
	s.Equal(string(audit.EventRateLimitExceeded), s.audit.events[0].Action)
	s.Equal("rate limit exceeded", s.audit.events[0].Reason)

	s.Equal(float64(10), testutil.ToFloat64(s.metrics.RateLimitDecisions.WithLabelValues(models.EndpointVerifyID, "allowed")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.RateLimitDecisions.WithLabelValues(models.EndpointVerifyID, "denied")))
}

func (s *LimiterSuite) TestAllowRequestUsesRequestClock() {
	ctx := requestcontext.WithTime(s.ctx, s.now)
	for range 10 {
		s.True(s.limiter.AllowRequest(ctx, "203.0.113.9", models.EndpointVerifyID))
	}
	s.False(s.limiter.AllowRequest(ctx, "203.0.113.9", models.EndpointVerifyID))

	later := requestcontext.WithTime(s.ctx, s.now.Add(2*time.Minute))
	s.True(s.limiter.AllowRequest(later, "203.0.113.9", models.EndpointVerifyID))

	s.Run("blank caller is not limited", func() {
		for range 20 {
			s.True(s.limiter.AllowRequest(ctx, "  ", models.EndpointVerifyID))
		}
	})
}

func (s *LimiterSuite) TestReset() {
	for range 11 {
		s.limiter.Allow(s.ctx, models.NewKey("caller", "status"), s.now)
	}
	s.Require().NoError(s.limiter.Reset(s.ctx, "caller", "status"))
	s.True(s.limiter.Allow(s.ctx, models.NewKey("caller", "status"), s.now))
}
