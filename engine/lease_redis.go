package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when the caller still owns it,
// so an expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a distributed Locker built on SET NX PX. The TTL doubles
// as crash recovery: a worker that dies mid-turn leaves a lease that simply
// expires, trading a small duplicate-execution window for availability.
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLocker creates a Redis-backed lease locker.
func NewRedisLocker(client *redis.Client, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "reportflow:"
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix + "lease:"}
}

type redisLease struct {
	locker   *RedisLocker
	threadID string
	token    string
}

// Acquire grants a lease unless an unexpired one is held.
func (l *RedisLocker) Acquire(ctx context.Context, threadID string, ttl time.Duration) (Lease, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+threadID, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{locker: l, threadID: threadID, token: token}, nil
}

// Release frees the lease if this holder still owns it.
func (r *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, r.locker.client,
		[]string{r.locker.keyPrefix + r.threadID}, r.token).Err()
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)
