package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"budget/internal/store"

	_ "github.com/lib/pq"
)

// PostgresStore persists the store record in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Persister = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and creates the state table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS budget_state (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Load implements store.Persister
func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := `SELECT value FROM budget_state WHERE key = $1`
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return value, nil
}

// Save implements store.Persister
func (s *PostgresStore) Save(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO budget_state (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
