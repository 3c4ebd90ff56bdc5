//go:build integration

package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agegate/pkg/testutil/containers"
)

type RedisWindowStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisWindowStore
}

func TestRedisWindowStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisWindowStoreIntegrationSuite))
}

func (s *RedisWindowStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedisWindowStore(s.redis.Client, "it:rl:")
}

func (s *RedisWindowStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisWindowStoreIntegrationSuite) TestConcurrentIncrementsAcrossClients() {
	ctx := context.Background()
	now := time.Now()

	const workers = 20
	const perWorker = 25
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, _ = s.store.Increment(ctx, "ip:shared", now, time.Minute)
			}
		}()
	}
	wg.Wait()

	w, err := s.store.Increment(ctx, "ip:shared", now, time.Minute)
	s.Require().NoError(err)
	s.Equal(workers*perWorker+1, w.Count)
}

func (s *RedisWindowStoreIntegrationSuite) TestWindowExpiresInRealTime() {
	ctx := context.Background()
	size := 300 * time.Millisecond

	for i := range 3 {
		w, err := s.store.Increment(ctx, "ip:short", time.Now(), size)
		s.Require().NoError(err)
		s.Equal(i+1, w.Count)
	}

	s.Eventually(func() bool {
		w, err := s.store.Increment(ctx, "ip:short", time.Now(), size)
		return err == nil && w.Count == 1
	}, 3*time.Second, 100*time.Millisecond)
}
