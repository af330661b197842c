package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusivity(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "th", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// A different thread is unaffected.
	other, err := locker.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	lease2, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestMemoryLockerExpiredLeaseIsReclaimable(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "th", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// The abandoned lease has expired; a new holder takes over.
	fresh, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)

	// The stale holder's release must not evict the new lease.
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Acquire(ctx, "th", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLockerReleaseIdempotent(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
}

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "test:"), mr
}

func TestRedisLockerExclusivity(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "th", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Release(ctx))
	lease2, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestRedisLockerTTLExpiry(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "th", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)

	// The old holder's release is a no-op once its token is gone.
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Acquire(ctx, "th", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLockerKeyPrefixes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRedisLocker(client, "a:")
	b := NewRedisLocker(client, "b:")
	ctx := context.Background()

	leaseA, err := a.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)
	leaseB, err := b.Acquire(ctx, "th", time.Minute)
	require.NoError(t, err)

	require.NoError(t, leaseA.Release(ctx))
	require.NoError(t, leaseB.Release(ctx))
}
