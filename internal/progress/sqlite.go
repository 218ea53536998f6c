package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS unycop_progress (
	name       TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLite is a Store backed by a SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and creates the table if needed.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating progress table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM unycop_progress WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLite) Save(ctx context.Context, name string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unycop_progress (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLite) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM unycop_progress WHERE name = ?`, name)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
