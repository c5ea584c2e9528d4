// Package idempotency stores responses of mutating ride requests keyed by the
// caller's Idempotency-Key so a retried request is answered from cache.
package idempotency

import (
	"context"
	"sync"
)

// MemoryStore keeps responses in process. The first response stored for a key wins.
type MemoryStore struct {
	mu        sync.RWMutex
	responses map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{responses: make(map[string][]byte)}
}

// GetResponse returns a copy of the cached payload.
func (m *MemoryStore) GetResponse(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.responses[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryStore) PutResponse(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.responses[key]; !exists {
		m.responses[key] = append([]byte(nil), payload...)
	}
	return nil
}
