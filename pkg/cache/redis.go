package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/siteguard/siteguard-core/internal/monitoring"
)

// redisCache implements Cache against a single Redis/Valkey instance.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, defaultTTL time.Duration) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache at %s: %w", addr, err)
	}

	return &redisCache{client: client, ttl: defaultTTL}, nil
}

// NewRedisWithClient wraps an existing client. The queue shares the pooled
// connection set with the cache through this constructor.
func NewRedisWithClient(client *redis.Client, defaultTTL time.Duration) Cache {
	return &redisCache{client: client, ttl: defaultTTL}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("key not found: %s", key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (c *redisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		monitoring.RecordCacheOperation("setnx", "error")
		return false, fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	set, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		monitoring.RecordCacheOperation("setnx", "error")
		return false, err
	}
	if set {
		monitoring.RecordCacheOperation("setnx", "success")
	} else {
		monitoring.RecordCacheOperation("setnx", "conflict")
	}
	return set, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return false, err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return n > 0, nil
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("exists", "error")
		return false, err
	}
	monitoring.RecordCacheOperation("exists", "hit")
	return n > 0, nil
}

func (c *redisCache) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return c.client.Ping(ctx).Err()
}

func encode(value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return json.Marshal(x)
	}
}
