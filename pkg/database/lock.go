package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 仅当锁仍由自己持有时才删除。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SETNX 的简单互斥锁，用于让多个 worker 中只有一个执行周期任务。
type RedisLocker struct {
	rdb   *redis.Client
	owner string
}

// NewRedisLocker 创建锁，owner 为随机值。
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, owner: uuid.NewString()}
}

// TryLock 尝试获取 key 对应的锁，ttl 到期后自动释放。
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
}

// Unlock 释放由本实例持有的锁。
func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, l.owner).Err()
}
