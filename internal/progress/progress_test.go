package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"unycop-connector/internal/model"
)

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, SyncName); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, SyncName, []byte(`{"offset":100}`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := s.Save(ctx, SyncName, []byte(`{"offset":200}`)); err != nil {
		t.Fatalf("Save() overwrite error: %v", err)
	}
	got, err := s.Load(ctx, SyncName)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(got) != `{"offset":200}` {
		t.Errorf("Load() = %s, want offset 200", got)
	}

	// names are independent
	if _, err := s.Load(ctx, MigrationName); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Load(other name) error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, SyncName); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Load(ctx, SyncName); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Load(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, SyncName); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestBadger(t *testing.T) {
	s, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadger_InMemory(t *testing.T) {
	s, err := OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	if err := Save(ctx, s, SyncName, &Progress{Offset: 300, RunToken: "tok"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()
	p, err := Load(ctx, s, SyncName)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p == nil || p.Offset != 300 || p.RunToken != "tok" {
		t.Errorf("Load() = %+v, want offset 300 and token", p)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("UNYCOP_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("UNYCOP_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("OpenPostgres() error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	locker := s.Locker()
	lease, err := locker.Acquire(ctx, "feed:test")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := locker.Acquire(ctx, "feed:test"); !errors.Is(err, model.ErrRunConflict) {
		t.Errorf("second Acquire() error = %v, want ErrRunConflict", err)
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	lease, err = locker.Acquire(ctx, "feed:test")
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	lease.Release()
}

func TestLoadSave_RoundTripsProgress(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	p, err := Load(ctx, s, SyncName)
	if err != nil || p != nil {
		t.Fatalf("Load(missing) = %v, %v; want nil, nil", p, err)
	}

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want := &Progress{Offset: 100, ChunkSize: 100, Updated: 90, Created: 2, ErrorCount: 1,
		Errors: []string{"line 4: expected at least 7 columns, got 2"}, RunToken: "abc", Timestamp: ts}
	if err := Save(ctx, s, SyncName, want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(ctx, s, SyncName)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Offset != 100 || got.Updated != 90 || got.RunToken != "abc" || !got.Timestamp.Equal(ts) {
		t.Errorf("Load() = %+v", got)
	}
	if len(got.Errors) != 1 || got.Errors[0] != want.Errors[0] {
		t.Errorf("Errors = %v", got.Errors)
	}
}

func TestLoad_CorruptValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	s.Save(ctx, SyncName, []byte("not json"))

	if _, err := Load(ctx, s, SyncName); err == nil {
		t.Error("expected decode error")
	}
}

func TestAppendErrors_Caps(t *testing.T) {
	var p Progress
	for i := 0; i < MaxErrors+10; i++ {
		p.AppendErrors("e")
	}
	if len(p.Errors) != MaxErrors {
		t.Errorf("len(Errors) = %d, want %d", len(p.Errors), MaxErrors)
	}
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	lease, err := l.Acquire(ctx, "file:/data/stocklocal.csv")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := l.Acquire(ctx, "file:/data/stocklocal.csv"); !errors.Is(err, model.ErrRunConflict) {
		t.Fatalf("second Acquire() error = %v, want ErrRunConflict", err)
	}
	other, err := l.Acquire(ctx, "file:/data/other.csv")
	if err != nil {
		t.Fatalf("Acquire(other key) error: %v", err)
	}
	other.Release()

	lease.Release()
	lease.Release() // idempotent

	again, err := l.Acquire(ctx, "file:/data/stocklocal.csv")
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	again.Release()
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default memory", Options{}, false},
		{"badger", Options{Backend: BackendBadger, Path: filepath.Join(dir, "kv")}, false},
		{"sqlite", Options{Backend: BackendSQLite, Path: filepath.Join(dir, "p.db")}, false},
		{"unknown", Options{Backend: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(ctx, tt.opts, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer b.Close()
			if b.Store == nil || b.Locker == nil {
				t.Error("backend missing store or locker")
			}
		})
	}
}
