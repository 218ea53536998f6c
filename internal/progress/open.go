package progress

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string // badger directory or sqlite file
	DSN     string // postgres
}

// Backend bundles an opened Store with its Locker.
type Backend struct {
	Store  Store
	Locker Locker
	close  func() error
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open opens the configured backend. Every backend except postgres uses
// a process-local locker.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Backend {
	case "", BackendMemory:
		return &Backend{Store: NewMemory(), Locker: NewMemoryLocker()}, nil

	case BackendBadger:
		s, err := OpenBadger(opts.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Locker: NewMemoryLocker(), close: s.Close}, nil

	case BackendSQLite:
		s, err := OpenSQLite(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Locker: NewMemoryLocker(), close: s.Close}, nil

	case BackendPostgres:
		s, err := OpenPostgres(ctx, PostgresConfig{DSN: opts.DSN}, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Locker: s.Locker(), close: s.Close}, nil
	}
	return nil, fmt.Errorf("unknown progress backend %q", opts.Backend)
}
