package catalog

import (
	"context"
	"errors"
)

// Mock implements Adapter for testing.
// Each method can be configured via function fields.
type Mock struct {
	FindByKeyFunc   func(ctx context.Context, key string) (*Entry, error)
	CreateFunc      func(ctx context.Context, fields Fields) (string, error)
	UpdateFunc      func(ctx context.Context, id string, fields Fields) error
	ListAllKeysFunc func(ctx context.Context) (map[string]struct{}, error)
}

// FindByKey calls the configured FindByKeyFunc or reports no match.
func (m *Mock) FindByKey(ctx context.Context, key string) (*Entry, error) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}
	return nil, nil
}

// Create calls the configured CreateFunc or returns an error.
func (m *Mock) Create(ctx context.Context, fields Fields) (string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, fields)
	}
	return "", errors.New("mock: create not configured")
}

// Update calls the configured UpdateFunc or returns an error.
func (m *Mock) Update(ctx context.Context, id string, fields Fields) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, fields)
	}
	return errors.New("mock: update not configured")
}

// ListAllKeys calls the configured ListAllKeysFunc or returns an empty set.
func (m *Mock) ListAllKeys(ctx context.Context) (map[string]struct{}, error) {
	if m.ListAllKeysFunc != nil {
		return m.ListAllKeysFunc(ctx)
	}
	return map[string]struct{}{}, nil
}

// Verify Mock implements Adapter interface at compile time.
var _ Adapter = (*Mock)(nil)
