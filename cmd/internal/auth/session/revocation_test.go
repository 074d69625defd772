package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	c := NewMemoryRevocationCache(clock.Now)

	require.NoError(t, c.Deny(ctx, "jti-1", time.Minute))
	require.NoError(t, c.Deny(ctx, "jti-2", 0))
	require.NoError(t, c.Deny(ctx, "jti-3", -time.Second))

	denied, err := c.IsDenied(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, denied)

	for _, jti := range []string{"jti-2", "jti-3", "unknown"} {
		denied, err := c.IsDenied(ctx, jti)
		require.NoError(t, err)
		require.False(t, denied, jti)
	}

	clock.Advance(time.Minute)
	denied, err = c.IsDenied(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, denied)
	require.Zero(t, c.Len())
}

func newMiniredisCache(t *testing.T) (*RedisRevocationCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRevocationCache(rdb), mr
}

func TestRedisRevocationCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newMiniredisCache(t)

	require.NoError(t, c.Deny(ctx, "jti-1", 90*time.Second))
	require.NoError(t, c.Deny(ctx, "jti-2", 0))

	require.True(t, mr.Exists(DenyKeyPrefix+"jti-1"))
	require.Equal(t, 90*time.Second, mr.TTL(DenyKeyPrefix+"jti-1"))
	require.False(t, mr.Exists(DenyKeyPrefix+"jti-2"))

	denied, err := c.IsDenied(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, denied)

	mr.FastForward(90 * time.Second)
	denied, err = c.IsDenied(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, denied)
}

func TestRedisRevocationCache_Unavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newMiniredisCache(t)
	mr.Close()

	_, err := c.IsDenied(ctx, "jti-1")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.True(t, IsRetryable(err))

	err = c.Deny(ctx, "jti-1", time.Minute)
	var se StorageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "session.RevocationCache.Deny", se.Op)
}

func TestService_LogoutWithRedisCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEngine(t, DefaultConfig())
	rc, mr := newMiniredisCache(t)
	f.svc.cache = rc

	pair, err := f.svc.IssueInitialPair(ctx, alice, nil, false, DeviceContext{})
	require.NoError(t, err)
	claims, err := f.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.Logout(ctx, claims)
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL(DenyKeyPrefix+claims.ID))

	_, err = f.svc.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}
