package progress

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return nil, notFound(name)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Save(ctx context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}

var _ Store = (*Memory)(nil)
