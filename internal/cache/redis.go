package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a go-redis client. timeout <= 0 keeps the library defaults.
func NewRedisClient(addr, password string, db int, timeout time.Duration) *redis.Client {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return redis.NewClient(opts)
}

// RedisCache implements Cache on redis with JSON-encoded values and native TTLs.
type RedisCache[V any] struct {
	client    redis.Cmdable
	namespace string
}

// NewRedisCache returns a cache storing keys under "weather:<namespace>:".
func NewRedisCache[V any](client redis.Cmdable, namespace string) *RedisCache[V] {
	return &RedisCache[V]{client: client, namespace: namespace}
}

func (c *RedisCache[V]) key(k string) string {
	return keyPrefix + c.namespace + ":" + k
}

func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, true, nil
}

func (c *RedisCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}
