package announce

import (
	"context"
	"fmt"
	"time"

	"dmlog-tracer-sol/internal/deepmind"

	"github.com/redis/go-redis/v9"
)

var _ deepmind.Announcer = (*RedisAnnouncer)(nil)

const (
	batchKeyPrefix = "dmlog:batch"
	defaultKeyTTL  = 24 * time.Hour
)

// RedisAnnouncer 批次落盘后写入 dmlog:batch:<batch_id> = 文件名，供下游按 batch 查询
type RedisAnnouncer struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisAnnouncer(rdb redis.Cmdable, ttl time.Duration) *RedisAnnouncer {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &RedisAnnouncer{rdb: rdb, ttl: ttl}
}

func (a *RedisAnnouncer) Name() string {
	return "redis"
}

func (a *RedisAnnouncer) Announce(ctx context.Context, batchID uint64, filename string) error {
	if err := a.rdb.Set(ctx, BatchKey(batchID), filename, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Lookup 查询 batch 最近一次落盘的文件名，不存在时返回 ""
func (a *RedisAnnouncer) Lookup(ctx context.Context, batchID uint64) (string, error) {
	val, err := a.rdb.Get(ctx, BatchKey(batchID)).Result()
	switch {
	case err == redis.Nil:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("redis get error: %w", err)
	default:
		return val, nil
	}
}

func BatchKey(batchID uint64) string {
	return fmt.Sprintf("%s:%d", batchKeyPrefix, batchID)
}
