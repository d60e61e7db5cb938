package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bondledger/internal/platform/postgres"
	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

// PostgresStore keeps the owner in the single-row ledger_owner table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context) (domain.CallerID, error) {
	query := `SELECT owner FROM ledger_owner WHERE singleton`
	if postgres.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	var owner string
	err := postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx, query).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NullCaller, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.NullCaller, fmt.Errorf("read owner: %w", err)
	}
	return domain.CallerID(owner), nil
}

func (s *PostgresStore) Set(ctx context.Context, owner domain.CallerID, now time.Time) error {
	_, err := postgres.ConnFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO ledger_owner (singleton, owner, updated_at) VALUES (TRUE, $1, $2)
		ON CONFLICT (singleton) DO UPDATE SET owner = EXCLUDED.owner, updated_at = EXCLUDED.updated_at`,
		string(owner), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write owner: %w", err)
	}
	return nil
}
