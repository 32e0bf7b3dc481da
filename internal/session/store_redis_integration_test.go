//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"submit/pkg/platform/sentinel"
	"submit/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.Shared().Redis(s.T())
	s.store = NewRedis(s.redis.Client.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	in := &Data{StateNonce: "n1", SubmitID: "sub-1", AuthID: "auth-1", Program: "ysws"}
	s.Require().NoError(s.store.Save(ctx, "sid", in, time.Minute))

	out, err := s.store.Load(ctx, "sid")
	s.Require().NoError(err)
	s.Equal(in, out)

	ttl, err := s.redis.Client.TTL(ctx, keyPrefix+"sid").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisStoreSuite) TestMissingAndDeleted() {
	ctx := context.Background()
	_, err := s.store.Load(ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Save(ctx, "sid", &Data{SubmitID: "sub-1"}, time.Minute))
	s.Require().NoError(s.store.Delete(ctx, "sid"))
	_, err = s.store.Load(ctx, "sid")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
