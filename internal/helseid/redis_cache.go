package helseid

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
)

// RedisConfig holds the connection settings for RedisTokenCache
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisTokenCache shares access tokens between processes through Redis.
// Entries expire using the Redis key TTL.
type RedisTokenCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisClient creates a go-redis client with the default timeouts
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultRedisDialTimeout,
		ReadTimeout:  DefaultRedisReadTimeout,
		WriteTimeout: DefaultRedisWriteTimeout,
	})
}

// NewRedisTokenCache wraps an existing client.
// keyPrefix namespaces the cache keys, e.g. "slash-messenger:{client_id}:".
func NewRedisTokenCache(client redis.Cmdable, keyPrefix string) *RedisTokenCache {
	return &RedisTokenCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, WrapCacheError(err, "failed to read token from redis")
	}
	return value, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
			return WrapCacheError(err, "failed to delete token from redis")
		}
		return nil
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return WrapCacheError(err, "failed to write token to redis")
	}
	return nil
}
