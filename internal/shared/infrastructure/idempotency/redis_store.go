package idempotency

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps markers as plain keys with TTLs so several API replicas share them.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "coachpage:idempotency:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) doneKey(key string) string { return s.prefix + "done:" + key }
func (s *RedisStore) lockKey(key string) string { return s.prefix + "lock:" + key }

func (s *RedisStore) IsDone(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.doneKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, s.lockKey(key), strconv.FormatInt(s.now().UnixMilli(), 10), ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.lockKey(key)).Err()
}

func (s *RedisStore) MarkDone(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.doneKey(key), strconv.FormatInt(s.now().UnixMilli(), 10), ttl).Err()
}
