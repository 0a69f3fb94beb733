// Package cache defines a common interface for cache implementations that can
// store computed expansions of pi for subsequent requests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Cache defines an interface for a cache implementation that can be used to
// store the results of a calculation for subsequent lookup requests.
type Cache interface {
	// Return the string that was set for key (or "" if unset) and an Error
	// if the implementation failed.
	// NOTE: a cache miss *should not* return an error.
	GetValue(ctx context.Context, key string) (string, error)
	// Store the value string with the provided key, returning an error if
	// the implementation failed.
	SetValue(ctx context.Context, key string, value string) error
}

// NoopCache implements Cache interface without any real cacheing.
type NoopCache struct{}

// Always returns an empty string and no error for every key.
func (n *NoopCache) GetValue(ctx context.Context, key string) (string, error) {
	return "", nil
}

// Ignores the value and returns nil error.
func (n *NoopCache) SetValue(ctx context.Context, key string, value string) error {
	return nil
}

// Creates a no-operation Cache implementation that satisfies the interface
// requirements without performing any real caching. All values are silently
// dropped by SetValue and calls to GetValue always return an empty string.
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// RedisCache implements Cache interface backed by a Redis store.
type RedisCache struct {
	*redis.Pool
	// Prepended to every key.
	prefix string
	// Expiration applied to stored values; zero means values never expire.
	expiration time.Duration
}

type RedisCacheOption func(*RedisCache)

// Prepend prefix to every key written to, or read from, Redis.
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(r *RedisCache) {
		r.prefix = prefix
	}
}

// Expire stored values after the duration; values are kept indefinitely if
// expiration is not positive.
func WithExpiration(expiration time.Duration) RedisCacheOption {
	return func(r *RedisCache) {
		if expiration > 0 {
			r.expiration = expiration
		}
	}
}

// Keep at most maxIdle idle connections in the pool.
func WithMaxIdle(maxIdle int) RedisCacheOption {
	return func(r *RedisCache) {
		r.MaxIdle = maxIdle
	}
}

// Return a new Cache implementation using Redis
func NewRedisCache(ctx context.Context, endpoint string, options ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{
		Pool: &redis.Pool{
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", endpoint)
			},
		},
	}
	for _, option := range options {
		option(cache)
	}
	return cache
}

// Returns the string value stored in Redis under key, if present, or an empty string.
func (r *RedisCache) GetValue(ctx context.Context, key string) (string, error) {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get Redis connection: %w", err)
	}
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", r.prefix+key))
	if err == redis.ErrNil {
		// A cache miss is *NOT* an error to propagate
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET failed: %w", err)
	}
	return value, nil
}

// Store the string key:value pair in Redis.
func (r *RedisCache) SetValue(ctx context.Context, key string, value string) error {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Redis connection: %w", err)
	}
	defer conn.Close()
	args := redis.Args{}.Add(r.prefix+key, value)
	if r.expiration > 0 {
		args = args.Add("PX", r.expiration.Milliseconds())
	}
	if _, err = conn.Do("SET", args...); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}
