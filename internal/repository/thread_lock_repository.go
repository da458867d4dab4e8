package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 只删除仍由自己持有的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ThreadLockRepository 用 Redis 串行化同一 thread 上的并发交换。
type ThreadLockRepository interface {
	Acquire(ctx context.Context, threadID string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, threadID, token string) error
}

type redisThreadLockRepository struct {
	redisClient *redis.Client
}

// NewThreadLockRepository 创建一个新的 ThreadLockRepository 实例。
func NewThreadLockRepository(redisClient *redis.Client) ThreadLockRepository {
	return &redisThreadLockRepository{redisClient: redisClient}
}

func threadLockKey(threadID string) string {
	return fmt.Sprintf("thread:%s:lock", threadID)
}

func (r *redisThreadLockRepository) Acquire(ctx context.Context, threadID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.redisClient.SetNX(ctx, threadLockKey(threadID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire thread lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *redisThreadLockRepository) Release(ctx context.Context, threadID, token string) error {
	if err := releaseScript.Run(ctx, r.redisClient, []string{threadLockKey(threadID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release thread lock: %w", err)
	}
	return nil
}
