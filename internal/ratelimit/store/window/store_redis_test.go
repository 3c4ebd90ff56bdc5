package window

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisWindowStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisWindowStore
	ctx   context.Context
	now   time.Time
}

func TestRedisWindowStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisWindowStoreSuite))
}

func (s *RedisWindowStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.store = NewRedisWindowStore(client, "")
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RedisWindowStoreSuite) TestIncrementCountsWithinWindow() {
	var last int
	for range 11 {
		w, err := s.store.Increment(s.ctx, "ip:1.2.3.4:verify_id", s.now, testWindow)
		s.Require().NoError(err)
		last = w.Count
	}
	s.Equal(11, last)
	s.True(s.mr.Exists(defaultRedisPrefix + "ip:1.2.3.4:verify_id"))

	ttl := s.mr.TTL(defaultRedisPrefix + "ip:1.2.3.4:verify_id")
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, testWindow)
}

func (s *RedisWindowStoreSuite) TestWindowExpires() {
	for range 3 {
		_, err := s.store.Increment(s.ctx, "ip:expire", s.now, testWindow)
		s.Require().NoError(err)
	}

	s.mr.FastForward(testWindow + time.Second)

	w, err := s.store.Increment(s.ctx, "ip:expire", s.now.Add(testWindow+time.Second), testWindow)
	s.Require().NoError(err)
	s.Equal(1, w.Count)
}

func (s *RedisWindowStoreSuite) TestReset() {
	_, err := s.store.Increment(s.ctx, "ip:reset", s.now, testWindow)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx, "ip:reset"))
	s.False(s.mr.Exists(defaultRedisPrefix + "ip:reset"))
}

func (s *RedisWindowStoreSuite) TestInvalidWindow() {
	_, err := s.store.Increment(s.ctx, "ip:bad", s.now, 0)
	s.Require().Error(err)
}

func (s *RedisWindowStoreSuite) TestUnavailableRedis() {
	s.mr.Close()
	_, err := s.store.Increment(s.ctx, "ip:down", s.now, testWindow)
	s.Require().Error(err)
}
