package backend

import (
	"context"
	"strings"
	"sync"
)

// Memory is the process-local Store. It is only correct for single-process
// deployments: two instances backed by independent Memory stores do not see
// each other's state, which silently breaks every cross-process guarantee.
// Multi-process deployments must use Redis.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	// Copy so callers can't mutate the stored slice.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.collections[collection] = coll
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	coll[key] = stored
	return nil
}

func (m *Memory) SetMulti(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		coll, ok := m.collections[e.Collection]
		if !ok {
			coll = make(map[string][]byte)
			m.collections[e.Collection] = coll
		}
		stored := make([]byte, len(e.Value))
		copy(stored, e.Value)
		coll[e.Key] = stored
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections[collection], key)
	return nil
}

func (m *Memory) Keys(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.collections[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) ResetPrefix(_ context.Context, collection, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[collection]
	for k := range coll {
		if strings.HasPrefix(k, prefix) {
			delete(coll, k)
		}
	}
	return nil
}
