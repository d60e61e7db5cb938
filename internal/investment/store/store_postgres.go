package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bondledger/internal/investment"
	"bondledger/internal/platform/lock"
	"bondledger/internal/platform/postgres"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// PostgresStore keeps lots in investment_lots keyed by (investor, lot_index).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lotColumns = `lot_index, series_id, amount::text, redeemed, purchased_at, redeemed_at`

func (s *PostgresStore) Record(ctx context.Context, investor domain.CallerID, seriesID domain.SeriesID, amount uint64, now time.Time) (int, error) {
	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidParameter, "investment amount must be positive")
	}
	conn := postgres.ConnFrom(ctx, s.db)
	if postgres.InTx(ctx) {
		// Same key as the ledger's holder lock, so it never collides with a
		// series key. Held for the rest of the transaction.
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lock.HolderKey(investor)); err != nil {
			return 0, fmt.Errorf("lock investor %s: %w", investor, err)
		}
	}
	var idx int
	err := conn.QueryRowContext(ctx, `
		INSERT INTO investment_lots (investor, lot_index, series_id, amount, purchased_at)
		SELECT $1, COALESCE(MAX(lot_index) + 1, 0), $2, $3::numeric, $4
		FROM investment_lots WHERE investor = $1
		RETURNING lot_index`,
		string(investor), int64(seriesID), postgres.Numeric(amount), now.UTC(),
	).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("record lot for %s: %w", investor, err)
	}
	return idx, nil
}

func (s *PostgresStore) MarkRedeemed(ctx context.Context, investor domain.CallerID, index int, now time.Time) (investment.Lot, error) {
	conn := postgres.ConnFrom(ctx, s.db)
	query := `SELECT ` + lotColumns + ` FROM investment_lots WHERE investor = $1 AND lot_index = $2`
	if postgres.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	lot, err := scanLot(conn.QueryRowContext(ctx, query, string(investor), index))
	if errors.Is(err, sql.ErrNoRows) {
		return investment.Lot{}, dErrors.Newf(dErrors.CodeIndexOutOfRange, "no investment at index %d", index)
	}
	if err != nil {
		return investment.Lot{}, fmt.Errorf("read lot %s/%d: %w", investor, index, err)
	}
	if lot.Redeemed {
		return investment.Lot{}, dErrors.Newf(dErrors.CodeAlreadyRedeemed, "investment %d already redeemed", index)
	}

	at := now.UTC()
	res, err := conn.ExecContext(ctx, `
		UPDATE investment_lots SET redeemed = TRUE, redeemed_at = $3
		WHERE investor = $1 AND lot_index = $2 AND NOT redeemed`,
		string(investor), index, at,
	)
	if err != nil {
		return investment.Lot{}, fmt.Errorf("mark lot %s/%d: %w", investor, index, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return investment.Lot{}, dErrors.Newf(dErrors.CodeAlreadyRedeemed, "investment %d already redeemed", index)
	}
	lot.Redeemed = true
	lot.RedeemedAt = &at
	return lot, nil
}

func (s *PostgresStore) Get(ctx context.Context, investor domain.CallerID, index int) (investment.Lot, error) {
	lot, err := scanLot(postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM investment_lots WHERE investor = $1 AND lot_index = $2`,
		string(investor), index,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return investment.Lot{}, dErrors.Newf(dErrors.CodeIndexOutOfRange, "no investment at index %d", index)
	}
	if err != nil {
		return investment.Lot{}, fmt.Errorf("read lot %s/%d: %w", investor, index, err)
	}
	return lot, nil
}

func (s *PostgresStore) ListFor(ctx context.Context, investor domain.CallerID) ([]investment.Lot, error) {
	rows, err := postgres.ConnFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+lotColumns+` FROM investment_lots WHERE investor = $1 ORDER BY lot_index`,
		string(investor),
	)
	if err != nil {
		return nil, fmt.Errorf("list lots for %s: %w", investor, err)
	}
	defer rows.Close()

	lots := []investment.Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLot(row scanner) (investment.Lot, error) {
	var (
		lot        investment.Lot
		seriesID   int64
		amount     string
		redeemedAt sql.NullTime
	)
	if err := row.Scan(&lot.Index, &seriesID, &amount, &lot.Redeemed, &lot.PurchasedAt, &redeemedAt); err != nil {
		return investment.Lot{}, err
	}
	v, err := postgres.ParseNumeric(amount)
	if err != nil {
		return investment.Lot{}, err
	}
	lot.SeriesID = domain.SeriesID(seriesID)
	lot.Amount = v
	lot.PurchasedAt = lot.PurchasedAt.UTC()
	if redeemedAt.Valid {
		t := redeemedAt.Time.UTC()
		lot.RedeemedAt = &t
	}
	return lot, nil
}
