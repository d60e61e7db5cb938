package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bondledger/internal/platform/postgres"
	"bondledger/internal/reconcile"
	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

// PostgresStore writes through the pool, never through a transaction carried
// in ctx, so entries survive the rollback that caused them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, kind, holder, series_id, lot_index, amount::text, cause, recorded_at, resolved_at`

func (s *PostgresStore) Record(ctx context.Context, e *reconcile.Entry) error {
	var lot sql.NullInt64
	if e.LotIndex != nil {
		lot = sql.NullInt64{Int64: int64(*e.LotIndex), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_entries (id, kind, holder, series_id, lot_index, amount, cause, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Kind), string(e.Holder), int64(e.SeriesID), lot, postgres.Numeric(e.Amount), e.Cause, e.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record reconciliation entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record reconciliation entry: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*reconcile.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM reconciliation_entries WHERE resolved_at IS NULL ORDER BY recorded_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation entries: %w", err)
	}
	defer rows.Close()
	var out []*reconcile.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reconciliation entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*reconcile.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE reconciliation_entries SET resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1
		RETURNING `+entryColumns, id, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*reconcile.Entry, error) {
	var (
		e        reconcile.Entry
		kind     string
		holder   string
		seriesID int64
		lot      sql.NullInt64
		amount   string
		resolved sql.NullTime
	)
	if err := row.Scan(&e.ID, &kind, &holder, &seriesID, &lot, &amount, &e.Cause, &e.RecordedAt, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan reconciliation entry: %w", err)
	}
	v, err := postgres.ParseNumeric(amount)
	if err != nil {
		return nil, err
	}
	e.Kind = reconcile.Kind(kind)
	e.Holder = domain.CallerID(holder)
	e.SeriesID = domain.SeriesID(seriesID)
	e.Amount = v
	e.RecordedAt = e.RecordedAt.UTC()
	if lot.Valid {
		idx := int(lot.Int64)
		e.LotIndex = &idx
	}
	if resolved.Valid {
		at := resolved.Time.UTC()
		e.ResolvedAt = &at
	}
	return &e, nil
}
