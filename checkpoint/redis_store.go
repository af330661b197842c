package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments.
//
// Checkpoint payloads live in plain keys; a per-thread sorted set scored by
// version forms the chain index. Writes go through a Lua script so the
// version check, payload write, and index update commit together: a crash
// can never leave a payload key without its chain entry.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// putScript appends one checkpoint version atomically. KEYS[1] is the chain
// sorted set, KEYS[2] the payload key; ARGV[1] the version, ARGV[2] the
// payload. Returns 1 when accepted, 0 when the version is not latest+1.
var putScript = redis.NewScript(`
local top = redis.call("ZREVRANGE", KEYS[1], 0, 0, "WITHSCORES")
local latest = -1
if top[2] then
	latest = tonumber(top[2])
end
if tonumber(ARGV[1]) ~= latest + 1 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[1])
return 1
`)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "reportflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "ckpt:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "reportflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "ckpt:"}
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) dataKey(threadID string, version int) string {
	return s.keyPrefix + "data:" + threadID + ":" + strconv.Itoa(version)
}

func (s *RedisStore) chainKey(threadID string) string {
	return s.keyPrefix + "chain:" + threadID
}

func (s *RedisStore) infoKey(threadID string) string {
	return s.keyPrefix + "thread:" + threadID
}

func (s *RedisStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

func (s *RedisStore) allThreadsKey() string {
	return s.keyPrefix + "threads"
}

// Put appends a new checkpoint version.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	stored := cp.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Gapless chain: the script accepts exactly latest+1, writing payload
	// and chain entry in one atomic step. The chain top is the single
	// source of truth, so a concurrent Put at the same version loses the
	// race inside the script.
	accepted, err := putScript.Run(ctx, s.client,
		[]string{s.chainKey(cp.ThreadID), s.dataKey(cp.ThreadID, cp.Version)},
		cp.Version, data,
	).Int()
	if err != nil {
		return err
	}
	if accepted == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *RedisStore) readVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(threadID, version)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// GetLatest returns the highest-version checkpoint for a thread.
func (s *RedisStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, s.chainKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, ErrNotFound
	}
	return s.readVersion(ctx, threadID, int(top[0].Score))
}

// GetByVersion returns a specific version.
func (s *RedisStore) GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	return s.readVersion(ctx, threadID, version)
}

// List yields checkpoints newest-first.
func (s *RedisStore) List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		stop := int64(-1)
		if limit > 0 {
			stop = int64(limit) - 1
		}
		versions, err := s.client.ZRevRange(ctx, s.chainKey(threadID), 0, stop).Result()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, vs := range versions {
			v, err := strconv.Atoi(vs)
			if err != nil {
				continue
			}
			cp, err := s.readVersion(ctx, threadID, v)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(cp, nil) {
				return
			}
		}
	}
}

// DeleteThread removes a thread's chain and index entry.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	versions, err := s.client.ZRange(ctx, s.chainKey(threadID), 0, -1).Result()
	if err != nil {
		return err
	}

	info, _ := s.GetThreadInfo(ctx, threadID)

	pipe := s.client.Pipeline()
	for _, vs := range versions {
		if v, err := strconv.Atoi(vs); err == nil {
			pipe.Del(ctx, s.dataKey(threadID, v))
		}
	}
	pipe.Del(ctx, s.chainKey(threadID))
	pipe.Del(ctx, s.infoKey(threadID))
	pipe.ZRem(ctx, s.allThreadsKey(), threadID)
	if info != nil && info.UserID != "" {
		pipe.ZRem(ctx, s.userKey(info.UserID), threadID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PutThreadInfo creates or updates the discovery record for a thread.
func (s *RedisStore) PutThreadInfo(ctx context.Context, info *ThreadInfo) error {
	if info == nil || info.ThreadID == "" {
		return ErrInvalidInput
	}

	stored := *info
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	score := float64(stored.CreatedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.infoKey(info.ThreadID), data, 0)
	pipe.ZAdd(ctx, s.allThreadsKey(), redis.Z{Score: score, Member: info.ThreadID})
	if stored.UserID != "" {
		pipe.ZAdd(ctx, s.userKey(stored.UserID), redis.Z{Score: score, Member: info.ThreadID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetThreadInfo returns the discovery record for a thread.
func (s *RedisStore) GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error) {
	data, err := s.client.Get(ctx, s.infoKey(threadID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var info ThreadInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetThreadStatus updates the status of a thread's discovery record.
func (s *RedisStore) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	info, err := s.GetThreadInfo(ctx, threadID)
	if err != nil {
		return err
	}
	info.Status = status
	info.UpdatedAt = time.Now()

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.infoKey(threadID), data, 0).Err()
}

// ListThreadsByUser returns discovery records for a user, newest-first.
func (s *RedisStore) ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error) {
	key := s.allThreadsKey()
	if userID != "" {
		key = s.userKey(userID)
	}

	threadIDs, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*ThreadInfo, 0, len(threadIDs))
	for _, threadID := range threadIDs {
		info, err := s.GetThreadInfo(ctx, threadID)
		if err != nil {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
