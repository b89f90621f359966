package vault

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend for tests and local development.
// Expiry is evaluated lazily against a swappable clock.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the backend's clock; tests use it to step through TTL
// expiry without sleeping.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: value, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.liveEntry(key)
	if !ok {
		return nil, nil
	}
	return entry.value, nil
}

func (b *MemoryBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.liveEntry(key)
	if !ok {
		return 0, false, nil
	}
	return entry.expiresAt.Sub(b.now()), true, nil
}

func (b *MemoryBackend) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.liveEntry(key)
	if !ok || !bytes.Equal(entry.value, expected) {
		return false, nil
	}
	entry.expiresAt = b.now().Add(ttl)
	b.entries[key] = entry
	return true, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

// Delete removes a key; tests use it to simulate a concurrent expiry.
func (b *MemoryBackend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Replace swaps a key's bytes in place without touching the expiry; tests
// use it to force a compare-and-expire conflict.
func (b *MemoryBackend) Replace(key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.entries[key]; ok {
		entry.value = value
		b.entries[key] = entry
	}
}

// Keys lists the live keys; tests use it to assert what was written.
func (b *MemoryBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		if _, ok := b.liveEntry(key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// liveEntry returns the entry unless it is expired; callers hold the lock.
func (b *MemoryBackend) liveEntry(key string) (memoryEntry, bool) {
	entry, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if b.now().After(entry.expiresAt) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
