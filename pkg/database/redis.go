package database

import (
	"context"
	"time"

	"chatfabrica-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 承载会话锁与 Kafka 重试计数。
var RDB *redis.Client

const redisPingTimeout = 5 * time.Second

// InitRedis 初始化 Redis 客户端，连接不上时直接退出进程。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infow("Redis client connected successfully", "addr", addr, "db", db)
}
