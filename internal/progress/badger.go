package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by an embedded Badger database. Suits a single
// host running the CLI from a scheduler.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path. An empty path opens
// an in-memory database.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Load(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *Badger) Save(ctx context.Context, name string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), value)
	})
}

func (b *Badger) Delete(ctx context.Context, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)
