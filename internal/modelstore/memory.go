// Package modelstore provides modelcache.Store backends.
package modelstore

import (
	"context"
	"sync"

	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

// Memory keeps encoded models in a map. It is the default backend and is
// only useful within one process.
type Memory struct {
	mu   sync.RWMutex
	data map[modelcache.Key][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[modelcache.Key][]byte)}
}

// Load returns a copy of the stored bytes or modelcache.ErrNotFound.
func (m *Memory) Load(ctx context.Context, key modelcache.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key]
	if !ok {
		return nil, modelcache.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

// Save stores a copy of data under key.
func (m *Memory) Save(ctx context.Context, key modelcache.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}
