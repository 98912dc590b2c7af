package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*Postgres)(nil)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS kv_strings (
    key        TEXT        PRIMARY KEY,
    value      TEXT        NOT NULL,
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_kv_strings_expires_at
    ON kv_strings (expires_at)
    WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS kv_hashes (
    key   TEXT NOT NULL,
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (key, field)
);
`

// Postgres is a [Store] backed by two PostgreSQL tables. Expired string rows
// are filtered on read and overwritten on the next Set.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool for dsn, pings it and ensures the
// kv tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kv: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ping postgres: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// MigratePostgres creates the kv tables if they do not exist. It is idempotent.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		return fmt.Errorf("kv: migrate postgres: %w", err)
	}
	return nil
}

// Get implements [Store].
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM kv_strings
	           WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var v string
	err := p.pool.QueryRow(ctx, q, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: postgres get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements [Store].
func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	const q = `
INSERT INTO kv_strings (key, value, expires_at)
VALUES ($1, $2, CASE WHEN $3::double precision > 0
                     THEN now() + $3::double precision * interval '1 second' END)
ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	if _, err := p.pool.Exec(ctx, q, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("kv: postgres set %s: %w", key, err)
	}
	return nil
}

// HIncrBy implements [Store]. The upsert is a single statement, so concurrent
// increments on the same field never lose updates.
func (p *Postgres) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	const q = `
INSERT INTO kv_hashes (key, field, value)
VALUES ($1, $2, ($3::bigint)::text)
ON CONFLICT (key, field) DO UPDATE
    SET value = (kv_hashes.value::bigint + $3::bigint)::text
RETURNING value::bigint`
	var n int64
	if err := p.pool.QueryRow(ctx, q, key, field, delta).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv: postgres hincrby %s/%s: %w", key, field, err)
	}
	return n, nil
}

// HGetAll implements [Store].
func (p *Postgres) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT field, value FROM kv_hashes WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("kv: postgres hgetall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, fmt.Errorf("kv: postgres hgetall %s: scan: %w", key, err)
		}
		out[f] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: postgres hgetall %s: %w", key, err)
	}
	return out, nil
}

// HSet implements [Store].
func (p *Postgres) HSet(ctx context.Context, key, field, value string) error {
	const q = `
INSERT INTO kv_hashes (key, field, value) VALUES ($1, $2, $3)
ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`
	if _, err := p.pool.Exec(ctx, q, key, field, value); err != nil {
		return fmt.Errorf("kv: postgres hset %s/%s: %w", key, field, err)
	}
	return nil
}

// Ping implements [Store].
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("kv: postgres ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
