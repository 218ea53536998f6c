package progress

import (
	"context"
	"fmt"
	"sync"

	"unycop-connector/internal/model"
)

// Locker grants exclusive leases keyed by feed identity. Acquire does not
// wait: a held key fails with model.ErrRunConflict.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release() error
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLocker returns a process-local Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s is locked by another run", model.ErrRunConflict, key)
	}
	l.held[key] = true
	return &memoryLease{locker: l, key: key}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	once   sync.Once
}

func (m *memoryLease) Release() error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		delete(m.locker.held, m.key)
		m.locker.mu.Unlock()
	})
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
