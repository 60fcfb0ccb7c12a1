package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hlsrelay/config"
	"hlsrelay/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hlsrelay:"

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore 基于 Redis 原生 TTL 的缓存实现
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 缓存
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get 获取缓存
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logger.Error("获取缓存失败",
			logger.String("key", key),
			logger.ErrorField(err))
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set 设置缓存
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		logger.Error("设置缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(value)),
			logger.ErrorField(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	logger.Debug("缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(value)),
		logger.Duration("expiration", ttl))
	return nil
}

// Delete 删除缓存
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// CheckRedis 测试Redis连接和基本读写操作
func CheckRedis(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	const probeKey = keyPrefix + "probe"
	const probeValue = "Redis connection successful!"

	if err := client.Set(ctx, probeKey, probeValue, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}

	val, err := client.Get(ctx, probeKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != probeValue {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}

	if err := client.Del(ctx, probeKey).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}
