// Package progress persists the state of chunked runs between invocations.
//
// A Store is a plain named key-value contract. Progress values are stored as
// JSON under a fixed name per run kind, so any backend that can hold bytes
// (memory, Badger, SQLite, Postgres) can carry them.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unycop-connector/internal/model"
)

// Well-known names.
const (
	SyncName      = "unycop_sync_progress"
	MigrationName = "unycop_migration_progress"
	MigrationDone = "unycop_migration_done"
)

// MaxErrors caps the persisted error list. ErrorCount keeps the true total.
const MaxErrors = 500

// Store is the persistent key-value contract used by the batch controller.
// Load returns model.ErrNotFound when the name is absent.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, value []byte) error
	Delete(ctx context.Context, name string) error
}

// Progress is the persisted state of one chunked run.
type Progress struct {
	Offset     int       `json:"offset"`
	ChunkSize  int       `json:"chunk_size"`
	Processed  int       `json:"processed"`
	Updated    int       `json:"updated"`
	Created    int       `json:"created"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	ErrorCount int       `json:"error_count"`
	Errors     []string  `json:"errors"`
	RunToken   string    `json:"run_token,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Done       bool      `json:"done"`
}

// AppendErrors adds messages in order, keeping at most MaxErrors.
func (p *Progress) AppendErrors(msgs ...string) {
	for _, m := range msgs {
		if len(p.Errors) >= MaxErrors {
			return
		}
		p.Errors = append(p.Errors, m)
	}
}

// Load reads the named progress. A missing record returns (nil, nil).
func Load(ctx context.Context, store Store, name string) (*Progress, error) {
	data, err := store.Load(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return &p, nil
}

// Save writes the named progress.
func Save(ctx context.Context, store Store, name string, p *Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := store.Save(ctx, name, data); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name holds a value.
func Exists(ctx context.Context, store Store, name string) (bool, error) {
	_, err := store.Load(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", model.ErrNotFound, name)
}
