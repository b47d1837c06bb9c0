package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"anonid/pkg/platform/sentinel"
)

type RedisStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *Redis
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := goredis.NewClient(&goredis.Options{Addr: s.mr.Addr()})
	s.store = NewRedis(client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) TestStrings() {
	s.Run("missing key returns not found", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("set then get round-trips", func() {
		s.Require().NoError(s.store.Set(s.ctx, "k", "v", time.Minute))
		val, err := s.store.Get(s.ctx, "k")
		s.Require().NoError(err)
		s.Equal("v", val)
	})

	s.Run("ttl expires values", func() {
		s.Require().NoError(s.store.Set(s.ctx, "short", "v", time.Minute))
		s.mr.FastForward(2 * time.Minute)
		_, err := s.store.Get(s.ctx, "short")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStoreSuite) TestHashes() {
	s.Run("missing hash maps empty reply to not found", func() {
		_, err := s.store.HGetAll(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("hset merges fields and expire applies", func() {
		s.Require().NoError(s.store.HSet(s.ctx, "h", map[string]string{"a": "1"}))
		s.Require().NoError(s.store.HSet(s.ctx, "h", map[string]string{"b": "2"}))
		fields, err := s.store.HGetAll(s.ctx, "h")
		s.Require().NoError(err)
		s.Equal(map[string]string{"a": "1", "b": "2"}, fields)

		s.Require().NoError(s.store.Expire(s.ctx, "h", time.Minute))
		s.mr.FastForward(2 * time.Minute)
		_, err = s.store.HGetAll(s.ctx, "h")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStoreSuite) TestSets() {
	s.Run("sadd, srem, scard", func() {
		s.Require().NoError(s.store.SAdd(s.ctx, "set", "a", "b", "c"))
		n, err := s.store.SCard(s.ctx, "set")
		s.Require().NoError(err)
		s.EqualValues(3, n)

		s.Require().NoError(s.store.SRem(s.ctx, "set", "b"))
		n, err = s.store.SCard(s.ctx, "set")
		s.Require().NoError(err)
		s.EqualValues(2, n)
	})
}
