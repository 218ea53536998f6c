package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory is an in-process Adapter. Used by tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	nextID  int

	// DropWrite, if set, is consulted on every Update; returning true
	// acknowledges the write without storing it. Simulates a store that
	// silently loses writes behind a cache.
	DropWrite func(id string, fields Fields) bool

	creates int
	updates int
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

// Seed inserts entries as-is. Entries without ID get one assigned.
func (m *Memory) Seed(entries ...Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e := e
		if e.ID == "" {
			m.nextID++
			e.ID = strconv.Itoa(m.nextID)
		}
		e.Meta = copyMeta(e.Meta)
		m.entries[e.ID] = &e
	}
}

func (m *Memory) FindByKey(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.SKU == key {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func (m *Memory) Create(ctx context.Context, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fields.SKU != nil {
		for _, e := range m.entries {
			if e.SKU == *fields.SKU {
				return "", fmt.Errorf("sku %s already exists", *fields.SKU)
			}
		}
	}
	m.nextID++
	e := &Entry{ID: strconv.Itoa(m.nextID)}
	fields.Apply(e)
	m.entries[e.ID] = e
	m.creates++
	return e.ID, nil
}

func (m *Memory) Update(ctx context.Context, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("product %s not found", id)
	}
	m.updates++
	if m.DropWrite != nil && m.DropWrite(id, fields) {
		return nil
	}
	fields.Apply(e)
	return nil
}

func (m *Memory) ListAllKeys(ctx context.Context) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]struct{}, len(m.entries))
	for _, e := range m.entries {
		if e.SKU != "" {
			keys[e.SKU] = struct{}{}
		}
	}
	return keys, nil
}

// Get returns a copy of the entry with the given ID.
func (m *Memory) Get(id string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return cloneEntry(e), true
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Writes returns how many Create and Update calls reached the store.
func (m *Memory) Writes() (creates, updates int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates, m.updates
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	if e.Stock != nil {
		stock := *e.Stock
		c.Stock = &stock
	}
	c.Meta = copyMeta(e.Meta)
	return &c
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Verify Memory implements Adapter interface at compile time.
var _ Adapter = (*Memory)(nil)
