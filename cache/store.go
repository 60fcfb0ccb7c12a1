package cache

import (
	"context"
	"time"
)

// Store 短期响应缓存，只按 TTL 过期，不做持久化
type Store interface {
	// Get 命中返回 (value, true, nil)，过期或不存在返回 (nil, false, nil)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set 写入并设置过期时间，ttl 必须为正
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
