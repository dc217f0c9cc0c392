//go:build integration

package chainlock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"veda/pkg/testutil/containers"
)

type RedisRegistrySuite struct {
	suite.Suite
	rc *containers.RedisContainer
}

func TestRedisRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisRegistrySuite))
}

func (s *RedisRegistrySuite) SetupSuite() {
	s.rc = containers.NewRedisContainer(s.T())
}

func (s *RedisRegistrySuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(context.Background()))
}

func (s *RedisRegistrySuite) registry(opts ...RedisOption) *RedisRegistry {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []RedisOption{WithPollInterval(5 * time.Millisecond)}
	return NewRedis(s.rc.Client, log, append(base, opts...)...)
}

// plantHolder writes a lock value directly, as a writer that acquired
// lockedAt ago and never released would have left it.
func (s *RedisRegistrySuite) plantHolder(age time.Duration) string {
	holder := "planted|" + time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	s.Require().NoError(s.rc.Client.Set(context.Background(), lockKeyPrefix+testKey.String(), holder, 0).Err())
	return holder
}

func (s *RedisRegistrySuite) currentHolder() (string, error) {
	return s.rc.Client.Get(context.Background(), lockKeyPrefix+testKey.String()).Result()
}

func (s *RedisRegistrySuite) TestAcquireBlocksUntilRelease() {
	ctx := context.Background()
	reg := s.registry()

	holder, err := reg.Acquire(ctx, testKey)
	s.Require().NoError(err)

	type attempt struct {
		holder string
		err    error
	}
	acquired := make(chan attempt, 1)
	go func() {
		second, err := reg.Acquire(ctx, testKey)
		acquired <- attempt{holder: second, err: err}
	}()

	select {
	case <-acquired:
		s.Fail("second writer acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	s.Require().NoError(reg.Release(ctx, testKey, holder))

	select {
	case second := <-acquired:
		s.Require().NoError(second.err)
		s.NotEqual(holder, second.holder)
		s.Require().NoError(reg.Release(ctx, testKey, second.holder))
	case <-time.After(2 * time.Second):
		s.Fail("second writer never acquired after release")
	}
}

func (s *RedisRegistrySuite) TestReleaseByForeignHolderKeepsLock() {
	ctx := context.Background()
	reg := s.registry()

	holder, err := reg.Acquire(ctx, testKey)
	s.Require().NoError(err)

	s.Require().NoError(reg.Release(ctx, testKey, "someone-else|2025-01-01T00:00:00Z"))
	current, err := s.currentHolder()
	s.Require().NoError(err)
	s.Equal(holder, current)

	s.Require().NoError(reg.Release(ctx, testKey, holder))
	_, err = s.currentHolder()
	s.Require().ErrorIs(err, redis.Nil)
}

// A crashed writer's lock is reclaimed on the acquire path, and the
// crashed writer's late release must not free the lock out from under
// the writer that took over.
func (s *RedisRegistrySuite) TestStaleReclaimThenGuardedRelease() {
	ctx := context.Background()
	reg := s.registry(WithStaleAfter(30 * time.Second))

	stale := s.plantHolder(time.Minute)

	holder, err := reg.Acquire(ctx, testKey)
	s.Require().NoError(err)
	s.NotEqual(stale, holder)

	s.Require().NoError(reg.Release(ctx, testKey, stale))
	current, err := s.currentHolder()
	s.Require().NoError(err)
	s.Equal(holder, current)

	s.Require().NoError(reg.Release(ctx, testKey, holder))
}

func (s *RedisRegistrySuite) TestSweepReclaimsOnlyStaleLocks() {
	ctx := context.Background()
	reg := s.registry(WithStaleAfter(30 * time.Second))

	s.plantHolder(time.Minute)

	freshKey := testKey
	freshKey.AgreementID = "agr-fresh"
	holder, err := reg.Acquire(ctx, freshKey)
	s.Require().NoError(err)

	s.Require().NoError(reg.sweep(ctx))

	_, err = s.currentHolder()
	s.Require().ErrorIs(err, redis.Nil)

	current, err := s.rc.Client.Get(ctx, lockKeyPrefix+freshKey.String()).Result()
	s.Require().NoError(err)
	s.Equal(holder, current)

	s.Require().NoError(reg.Release(ctx, freshKey, holder))
}
