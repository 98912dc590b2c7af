// Package kv defines the key-value store contract used by lingobot and its
// backends.
//
// Three implementations are provided:
//
//   - [Redis] wraps a go-redis client and is the default production backend.
//   - [Postgres] maps strings and hashes onto two tables in a pgx pool.
//   - [Memory] keeps everything in process and is used by tests and local runs.
//
// Exactly one Store is opened per process (see [Open]) and injected into the
// components that need it.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoEndpoint is returned by [Open] when a networked backend is selected but
// no connection URL is configured.
var ErrNoEndpoint = errors.New("kv: no store endpoint configured")

// Store is a minimal string + hash key-value store.
//
// Implementations must be safe for concurrent use. HIncrBy must be atomic at
// the store level.
type Store interface {
	// Get returns the string value at key. A missing or expired key yields
	// ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key. A zero ttl means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// HIncrBy atomically adds delta to the integer hash field and returns the
	// new value. Missing keys and fields start at 0.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// HGetAll returns every field of the hash at key. A missing key yields an
	// empty, non-nil map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet overwrites a single hash field.
	HSet(ctx context.Context, key, field, value string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Backend names accepted by [Config.Backend].
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and parameterises a backend.
type Config struct {
	// Backend is one of "redis", "postgres" or "memory". Empty means "redis".
	Backend string `yaml:"backend"`

	// URL is the connection string: redis://… for Redis, a libpq DSN or
	// postgres:// URL for Postgres. Ignored by the memory backend.
	URL string `yaml:"url"`
}

// Open connects to the backend described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = BackendRedis
	}

	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		if cfg.URL == "" {
			return nil, fmt.Errorf("kv: open redis: %w", ErrNoEndpoint)
		}
		return NewRedis(ctx, cfg.URL)
	case BackendPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("kv: open postgres: %w", ErrNoEndpoint)
		}
		return NewPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
