// Package cache stores rendered public API responses for a short TTL.
//
// Cache failures are never fatal: callers treat a miss and an error the
// same way and the error is only logged.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a byte-value cache keyed by request.
type Cache interface {
	// Get returns the value and true on a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Purge drops every entry, typically after an import changed the store.
	Purge(ctx context.Context) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	ttl time.Duration
	now func() time.Time
	// maxEntries bounds memory; the oldest-expiring entries go first.
	maxEntries int

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory returns a cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:        ttl,
		now:        time.Now,
		maxEntries: 1024,
		entries:    make(map[string]entry),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if m.ttl <= 0 {
		return nil
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}
	m.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: now.Add(m.ttl)}
	return nil
}

// evictLocked drops expired entries, or the one closest to expiry when none
// has expired yet.
func (m *Memory) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	removed := false
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed = true
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if !removed && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *Memory) Purge(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Purge(context.Context) error                       { return nil }
