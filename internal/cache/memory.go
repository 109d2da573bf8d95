package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	at      time.Time
	expires time.Time
}

// Memory is the in-process fallback suppression index used when Redis is not
// configured. Markers are lost on restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory constructs an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// LastSent returns when an alert last went out for the key, if the marker has
// not expired yet.
func (m *Memory) LastSent(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if time.Now().After(entry.expires) {
		delete(m.entries, key)
		return time.Time{}, false, nil
	}
	return entry.at, true, nil
}

// MarkSent records a delivery with an expiry, pruning stale markers as it goes.
func (m *Memory) MarkSent(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, entry := range m.entries {
		if now.After(entry.expires) {
			delete(m.entries, k)
		}
	}

	m.entries[key] = memoryEntry{at: at, expires: at.Add(ttl)}
	return nil
}
