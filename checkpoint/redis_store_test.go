package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "test:")
}

func TestRedisStoreKeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := NewRedisStoreWithClient(client, "a:")
	b := NewRedisStoreWithClient(client, "b:")

	require.NoError(t, a.Put(ctx, cp("th", 0)))

	_, err := b.GetLatest(ctx, "th")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := a.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Version)
}

// A payload key left behind without its chain entry (an interrupted write
// under an older, non-atomic scheme) must not wedge the chain: the chain top
// is the single source of truth and the orphan gets overwritten.
func TestRedisStorePutOverwritesOrphanedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStoreWithClient(client, "test:")
	require.NoError(t, store.Put(ctx, cp("th", 0)))

	// Plant an orphan payload at the next version, no chain entry.
	require.NoError(t, client.Set(ctx, store.dataKey("th", 1), "garbage", 0).Err())

	next := cp("th", 1)
	require.NoError(t, store.Put(ctx, next))

	got, err := store.GetLatest(ctx, "th")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, next.ChannelValues, got.ChannelValues)

	// The chain stays gapless afterwards.
	assert.NoError(t, store.Put(ctx, cp("th", 2)))
	assert.ErrorIs(t, store.Put(ctx, cp("th", 2)), ErrVersionConflict)
}

func TestRedisStorePing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStoreWithClient(client, "test:")
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
