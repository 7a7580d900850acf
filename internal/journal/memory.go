package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-replica deployments and
// local development. Entries honour TTLs but expired keys are only reaped
// lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryItem)}
}

// Get retrieves a stored value if present and not expired.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok || it.expired(time.Now()) {
		delete(m.data, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with an optional TTL. A zero TTL keeps the key forever.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = newMemoryItem(value, ttl)
	return nil
}

// SetNX stores the value only if the key is absent or expired.
func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.data[key]; ok && !it.expired(time.Now()) {
		return false, nil
	}
	m.data[key] = newMemoryItem(value, ttl)
	return true, nil
}

// Del removes an entry.
func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close discards all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}

func newMemoryItem(value []byte, ttl time.Duration) memoryItem {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	return memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}
