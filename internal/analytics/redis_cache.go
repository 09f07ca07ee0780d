package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "posledger:analytics:"

// RedisCache keeps report snapshots in Redis so an instance restart does not
// recompute every report cold.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, addr string, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
