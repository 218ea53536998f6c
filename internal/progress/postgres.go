package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unycop-connector/internal/model"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS unycop_progress (
	name       text PRIMARY KEY,
	value      bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	DialTimeout time.Duration
}

// Postgres is a Store backed by a Postgres table. Its pool also backs
// PostgresLocker so several hosts can share one run state.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects and creates the table if needed.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "unycop-connector"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	logger.Info("connecting to progress database")
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(dialCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating progress table: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Load(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM unycop_progress WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *Postgres) Save(ctx context.Context, name string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO unycop_progress (name, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value)
	return err
}

func (p *Postgres) Delete(ctx context.Context, name string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM unycop_progress WHERE name = $1`, name)
	return err
}

// Locker returns an advisory locker sharing this store's pool.
func (p *Postgres) Locker() *PostgresLocker {
	return &PostgresLocker{pool: p.pool}
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// PostgresLocker takes session-level advisory locks, so the lock lives as
// long as the acquired connection.
type PostgresLocker struct {
	pool *pgxpool.Pool
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for lock: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("taking advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: %s is locked by another run", model.ErrRunConflict, key)
	}
	return &pgLease{conn: conn, key: key}, nil
}

type pgLease struct {
	conn *pgxpool.Conn
	key  string
}

func (l *pgLease) Release() error {
	defer l.conn.Release()
	// background context so a cancelled run still unlocks
	_, err := l.conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, l.key)
	return err
}

var (
	_ Store  = (*Postgres)(nil)
	_ Locker = (*PostgresLocker)(nil)
)
