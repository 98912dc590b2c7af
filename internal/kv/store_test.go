package kv_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/lingobot/internal/kv"
)

// advanceFunc moves the backend's notion of time forward. nil means the
// backend cannot be fast-forwarded and expiry checks are skipped.
type advanceFunc func(d time.Duration)

// runStoreSuite exercises the behaviour every [kv.Store] must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) (kv.Store, advanceFunc)) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s, _ := newStore(t)
		v, ok, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok || v != "" {
			t.Errorf("Get(missing) = (%q, %v), want (\"\", false)", v, ok)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		s, _ := newStore(t)
		if err := s.Set(ctx, "user:meta:1", `{"id":1}`, 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "user:meta:1", `{"id":1,"targetLanguage":"Spanish"}`, 0); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		v, ok, err := s.Get(ctx, "user:meta:1")
		if err != nil || !ok {
			t.Fatalf("Get: (%q, %v, %v)", v, ok, err)
		}
		if v != `{"id":1,"targetLanguage":"Spanish"}` {
			t.Errorf("Get = %q", v)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		if advance == nil {
			t.Skip("backend cannot fast-forward time")
		}
		if err := s.Set(ctx, "correction:hola", "{}", time.Hour); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "forever", "x", 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		advance(59 * time.Minute)
		if _, ok, _ := s.Get(ctx, "correction:hola"); !ok {
			t.Error("entry expired before its TTL")
		}
		advance(2 * time.Minute)
		if _, ok, _ := s.Get(ctx, "correction:hola"); ok {
			t.Error("entry still present after its TTL")
		}
		if _, ok, _ := s.Get(ctx, "forever"); !ok {
			t.Error("entry without TTL expired")
		}
	})

	t.Run("HashOps", func(t *testing.T) {
		s, _ := newStore(t)
		all, err := s.HGetAll(ctx, "user:errors:7")
		if err != nil {
			t.Fatalf("HGetAll: %v", err)
		}
		if all == nil || len(all) != 0 {
			t.Fatalf("HGetAll(missing) = %v, want empty map", all)
		}

		for want := int64(1); want <= 3; want++ {
			got, err := s.HIncrBy(ctx, "user:errors:7", "tense", 1)
			if err != nil {
				t.Fatalf("HIncrBy: %v", err)
			}
			if got != want {
				t.Errorf("HIncrBy = %d, want %d", got, want)
			}
		}
		if err := s.HSet(ctx, "user:errors:7", "tense", "0"); err != nil {
			t.Fatalf("HSet: %v", err)
		}
		if got, _ := s.HIncrBy(ctx, "user:errors:7", "tense", 1); got != 1 {
			t.Errorf("HIncrBy after reset = %d, want 1", got)
		}
		if _, err := s.HIncrBy(ctx, "user:errors:7", "grammar", 1); err != nil {
			t.Fatalf("HIncrBy: %v", err)
		}

		all, err = s.HGetAll(ctx, "user:errors:7")
		if err != nil {
			t.Fatalf("HGetAll: %v", err)
		}
		if len(all) != 2 || all["tense"] != "1" || all["grammar"] != "1" {
			t.Errorf("HGetAll = %v", all)
		}
	})

	t.Run("ConcurrentHIncrBy", func(t *testing.T) {
		s, _ := newStore(t)
		const n = 50
		var wg sync.WaitGroup
		var failures atomic.Int32
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.HIncrBy(ctx, "user:errors:9", "syntax", 1); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()
		if f := failures.Load(); f != 0 {
			t.Fatalf("%d concurrent increments failed", f)
		}
		all, _ := s.HGetAll(ctx, "user:errors:9")
		if all["syntax"] != fmt.Sprint(n) {
			t.Errorf("syntax = %q, want %d", all["syntax"], n)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s, _ := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestMemory(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) (kv.Store, advanceFunc) {
		var mu sync.Mutex
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		s := kv.NewMemory(kv.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}))
		return s, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
	})
}

func TestMemory_HIncrByNonInteger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := kv.NewMemory()
	_ = s.HSet(ctx, "h", "f", "abc")
	if _, err := s.HIncrBy(ctx, "h", "f", 1); err == nil {
		t.Error("expected error incrementing a non-integer field")
	}
}

func TestRedis(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) (kv.Store, advanceFunc) {
		mr := miniredis.RunT(t)
		s := kv.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { _ = s.Close() })
		return s, mr.FastForward
	})
}

func TestNewRedis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	s, err := kv.NewRedis(ctx, "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer s.Close()
	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("server value = %q, want v", got)
	}

	if _, err := kv.NewRedis(ctx, "not a url"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestRedis_ServerDown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	s := kv.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	defer s.Close()
	mr.Close()

	if _, _, err := s.Get(ctx, "k"); err == nil {
		t.Error("Get: expected error with server down")
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping: expected error with server down")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     kv.Config
		wantErr error
		anyErr  bool
	}{
		{name: "memory", cfg: kv.Config{Backend: "memory"}},
		{name: "redis without url", cfg: kv.Config{}, wantErr: kv.ErrNoEndpoint},
		{name: "postgres without url", cfg: kv.Config{Backend: "postgres"}, wantErr: kv.ErrNoEndpoint},
		{name: "unknown backend", cfg: kv.Config{Backend: "etcd", URL: "x"}, anyErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := kv.Open(ctx, tc.cfg)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Open err = %v, want %v", err, tc.wantErr)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatal("Open: expected error")
				}
			default:
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				_ = s.Close()
			}
		})
	}
}

func TestOpen_Redis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	s, err := kv.Open(context.Background(), kv.Config{Backend: "REDIS", URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*kv.Redis); !ok {
		t.Errorf("Open returned %T, want *kv.Redis", s)
	}
}

// postgresDSN returns the test database DSN from the environment, or skips the
// test if LINGOBOT_TEST_POSTGRES_DSN is not set.
func postgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LINGOBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LINGOBOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgres(t *testing.T) {
	dsn := postgresDSN(t)
	runStoreSuite(t, func(t *testing.T) (kv.Store, advanceFunc) {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			t.Fatalf("pool: %v", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS kv_strings, kv_hashes"); err != nil {
			t.Fatalf("drop tables: %v", err)
		}

		s, err := kv.NewPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("NewPostgres: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s, nil
	})
}
