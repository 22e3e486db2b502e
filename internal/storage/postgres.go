package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const (
	postgresBackend = "postgres"

	createStateTable = `
		CREATE TABLE IF NOT EXISTS event_monitor_state (
			source     TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`

	selectState = `SELECT state FROM event_monitor_state WHERE source = $1;`

	upsertState = `
		INSERT INTO event_monitor_state (source, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at;`
)

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStore keeps one JSONB row per source. Each save is a single upsert
// statement, so a row is always either the previous or the next state.
type PostgresStore struct {
	pool   pgxPool
	source string
}

// NewPostgresStore connects to dsn and makes sure the state table exists
func NewPostgresStore(ctx context.Context, dsn, source string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store, err := NewPostgresStoreWithPool(pool, source)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing)
func NewPostgresStoreWithPool(pool pgxPool, source string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool, source: source}, nil
}

// EnsureSchema creates the state table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createStateTable); err != nil {
		return fmt.Errorf("creating state table: %w", err)
	}
	return nil
}

// Load reads the state row of the source
func (s *PostgresStore) Load(ctx context.Context) (*event.PersistedState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, selectState, s.key()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.NewState(s.source), nil
		}
		return readCorrupt(postgresBackend, s.source, fmt.Errorf("querying state: %w", err))
	}
	return decodeState(postgresBackend, s.source, data)
}

// Save upserts the state row of the source
func (s *PostgresStore) Save(ctx context.Context, state *event.PersistedState) error {
	data, err := encodeState(postgresBackend, state)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertState, s.key(), data, state.LastCheckedAt); err != nil {
		return writeFailed(postgresBackend, fmt.Errorf("upserting state: %w", err))
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) key() string {
	return StateName(s.source)
}
