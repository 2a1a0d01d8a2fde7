package cache

import (
	"context"
	"fmt"
	"time"

	"labeler_server/core/port/out"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLock is a CreationLock shared by every process on the same Redis.
// The TTL bounds how long a crashed holder can block others.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

var _ out.CreationLock = (*RedisLock)(nil)

// NewRedisLock creates a lock. ttl should exceed the label-create timeout.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLock{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

// Lock blocks until key is held or ctx is done.
func (l *RedisLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "labeler:lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return func() {
				// release even when the caller's context is already done
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
