package persistence

import (
	"FXSwapLedger/internal/store"
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore keeps engine records in swap_state.kv. Each Apply is one
// Postgres transaction, so a commit lands completely or not at all.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM swap_state.kv WHERE key = $1`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Apply(ctx context.Context, writes []store.Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kv tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO swap_state.kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare kv upsert: %w", err)
	}
	defer stmt.Close()

	for _, w := range writes {
		if w.Key == "" {
			return fmt.Errorf("empty key in write set")
		}
		if _, err := stmt.ExecContext(ctx, w.Key, w.Value); err != nil {
			return fmt.Errorf("upsert %s: %w", w.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kv tx: %w", err)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM swap_state.kv`).Scan(&n)
	return n, err
}
