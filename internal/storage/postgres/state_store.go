// Package postgres provides a Postgres-backed crawl state backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable = "crawl_state"
	defaultKey   = "default"
)

// StateStoreConfig controls the Postgres connection pool used for the state row.
type StateStoreConfig struct {
	DSN             string
	Table           string
	Key             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StateStore keeps the crawl state blob in one row keyed by Key.
type StateStore struct {
	pool  queryExecCloser
	table string
	key   string
}

// NewStateStore connects to Postgres and ensures the state table exists.
func NewStateStore(ctx context.Context, cfg StateStoreConfig) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &StateStore{pool: pool, table: table, key: resolveKey(cfg.Key)}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(pool queryExecCloser, table, key string) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &StateStore{pool: pool, table: resolved, key: resolveKey(key)}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func resolveKey(key string) string {
	if strings.TrimSpace(key) == "" {
		return defaultKey
	}
	return key
}

// EnsureSchema creates the state table if needed.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	state_key TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Read returns the stored blob or storage.ErrNotFound.
func (s *StateStore) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE state_key = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, s.key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	return payload, nil
}

// Write upserts the blob.
func (s *StateStore) Write(ctx context.Context, data []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (state_key, payload, updated_at) VALUES ($1, $2, now())
ON CONFLICT (state_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.key, data); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Delete removes the row; a missing row is not an error.
func (s *StateStore) Delete(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE state_key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
