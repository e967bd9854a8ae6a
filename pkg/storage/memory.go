package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	state   []byte
	savedAt time.Time
}

// MemoryStore keeps state in process memory. Entries older than the TTL are
// invisible to Load and removed by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return m.ttl > 0 && m.now().Sub(e.savedAt) > m.ttl
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.expired(e) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.state), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, key string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{state: slices.Clone(state), savedAt: m.now()}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep implements Store. Expired entries are removed as well.
func (m *MemoryStore) Sweep(_ context.Context, idleSince time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for key, e := range m.entries {
		if e.savedAt.Before(idleSince) || m.expired(e) {
			delete(m.entries, key)
			removed = append(removed, key)
		}
	}
	slices.Sort(removed)
	return removed, nil
}

// Keys returns the live keys with the given prefix, sorted.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) && !m.expired(e) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}
