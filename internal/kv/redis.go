package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

// Redis is a [Store] backed by a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis parses a redis:// URL, connects and pings the server.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client. Close closes the client.
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Get implements [Store].
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements [Store].
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: redis set %s: %w", key, err)
	}
	return nil
}

// HIncrBy implements [Store].
func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: redis hincrby %s/%s: %w", key, field, err)
	}
	return n, nil
}

// HGetAll implements [Store].
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: redis hgetall %s: %w", key, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// HSet implements [Store].
func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("kv: redis hset %s/%s: %w", key, field, err)
	}
	return nil
}

// Ping implements [Store].
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv: redis ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (r *Redis) Close() error {
	return r.client.Close()
}
