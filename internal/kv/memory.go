package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process [Store]. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]memoryEntry
	hashes  map[string]map[string]string
}

// MemoryOption configures a [Memory] store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for TTL expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		strings: make(map[string]memoryEntry),
		hashes:  make(map[string]map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.strings[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.strings, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements [Store].
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.strings[key] = e
	return nil
}

// HIncrBy implements [Store].
func (m *Memory) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	var cur int64
	if raw, ok := h[field]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: hincrby %s/%s: hash value is not an integer", key, field)
		}
		cur = n
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// HGetAll implements [Store].
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// HSet implements [Store].
func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

// Ping implements [Store]. The memory store is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *Memory) Close() error { return nil }
