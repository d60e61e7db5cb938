//go:build integration

package bucket_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/ratelimit/store/bucket"
	"bondledger/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.Redis
}

func TestRedisBucketSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.Reset(context.Background()))
}

func (s *RedisBucketSuite) TestAdmitsUpToLimit() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := s.store.AllowN(ctx, "rl:write:caller:alice", 1, 3, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}
	res, err := s.store.AllowN(ctx, "rl:write:caller:alice", 1, 3, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)

	s.Require().NoError(s.store.Reset(ctx, "rl:write:caller:alice"))
	res, err = s.store.AllowN(ctx, "rl:write:caller:alice", 1, 3, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisBucketSuite) TestWindowExpires() {
	ctx := context.Background()
	res, err := s.store.AllowN(ctx, "rl:read:ip:1", 1, 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(res.Allowed)

	s.Eventually(func() bool {
		res, err := s.store.AllowN(ctx, "rl:read:ip:1", 1, 1, 200*time.Millisecond)
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisBucketSuite) TestConcurrentCallersNeverExceedLimit() {
	ctx := context.Background()
	var (
		mu      sync.Mutex
		allowed int
		wg      sync.WaitGroup
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.AllowN(ctx, "rl:write:caller:bob", 1, 10, time.Minute)
			if s.NoError(err) && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(10, allowed)
}
