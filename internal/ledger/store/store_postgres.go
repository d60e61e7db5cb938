package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bondledger/internal/ledger"
	"bondledger/internal/platform/postgres"
	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// PostgresStore keeps balances in ledger_balances and the series totals in
// ledger_supply. Mint and Burn read with FOR UPDATE and check arithmetic in Go,
// since NUMERIC(20,0) would silently accept values past uint64.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type holderRow struct {
	balance  uint64
	redeemed uint64
}

func (s *PostgresStore) lockRows(ctx context.Context, conn postgres.Conn, seriesID domain.SeriesID, holder domain.CallerID) (ledger.Supply, holderRow, error) {
	supply := ledger.Supply{SeriesID: seriesID}
	var totalSupply, totalRedeemed string
	err := conn.QueryRowContext(ctx,
		`SELECT total_supply::text, total_redeemed::text FROM ledger_supply WHERE series_id = $1 FOR UPDATE`,
		int64(seriesID),
	).Scan(&totalSupply, &totalRedeemed)
	if err != nil {
		return supply, holderRow{}, fmt.Errorf("lock supply %d: %w", seriesID, err)
	}
	if supply.TotalSupply, err = postgres.ParseNumeric(totalSupply); err != nil {
		return supply, holderRow{}, err
	}
	if supply.TotalRedeemed, err = postgres.ParseNumeric(totalRedeemed); err != nil {
		return supply, holderRow{}, err
	}

	var row holderRow
	var balance, redeemed string
	err = conn.QueryRowContext(ctx,
		`SELECT balance::text, redeemed::text FROM ledger_balances WHERE series_id = $1 AND holder = $2 FOR UPDATE`,
		int64(seriesID), string(holder),
	).Scan(&balance, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return supply, row, nil
	}
	if err != nil {
		return supply, row, fmt.Errorf("lock balance %d/%s: %w", seriesID, holder, err)
	}
	if row.balance, err = postgres.ParseNumeric(balance); err != nil {
		return supply, row, err
	}
	if row.redeemed, err = postgres.ParseNumeric(redeemed); err != nil {
		return supply, row, err
	}
	return supply, row, nil
}

func (s *PostgresStore) write(ctx context.Context, conn postgres.Conn, supply ledger.Supply, holder domain.CallerID, row holderRow) error {
	if _, err := conn.ExecContext(ctx, `
		UPDATE ledger_supply SET total_supply = $2::numeric, total_redeemed = $3::numeric WHERE series_id = $1`,
		int64(supply.SeriesID), postgres.Numeric(supply.TotalSupply), postgres.Numeric(supply.TotalRedeemed),
	); err != nil {
		return fmt.Errorf("update supply %d: %w", supply.SeriesID, err)
	}
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO ledger_balances (series_id, holder, balance, redeemed)
		VALUES ($1, $2, $3::numeric, $4::numeric)
		ON CONFLICT (series_id, holder) DO UPDATE SET balance = EXCLUDED.balance, redeemed = EXCLUDED.redeemed`,
		int64(supply.SeriesID), string(holder), postgres.Numeric(row.balance), postgres.Numeric(row.redeemed),
	); err != nil {
		return fmt.Errorf("upsert balance %d/%s: %w", supply.SeriesID, holder, err)
	}
	return nil
}

func (s *PostgresStore) Mint(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error {
	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidParameter, "mint amount must be positive")
	}
	conn := postgres.ConnFrom(ctx, s.db)
	supply, row, err := s.lockRows(ctx, conn, seriesID, holder)
	if err != nil {
		return err
	}
	if row.balance, err = amount.Add(row.balance, units); err != nil {
		return err
	}
	if supply.TotalSupply, err = amount.Add(supply.TotalSupply, units); err != nil {
		return err
	}
	return s.write(ctx, conn, supply, holder, row)
}

func (s *PostgresStore) Burn(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error {
	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidParameter, "burn amount must be positive")
	}
	conn := postgres.ConnFrom(ctx, s.db)
	supply, row, err := s.lockRows(ctx, conn, seriesID, holder)
	if err != nil {
		return err
	}
	if row.balance < units {
		return dErrors.Newf(dErrors.CodeInsufficientBalance, "balance %d is less than %d", row.balance, units)
	}
	if row.redeemed, err = amount.Add(row.redeemed, units); err != nil {
		return err
	}
	if supply.TotalRedeemed, err = amount.Add(supply.TotalRedeemed, units); err != nil {
		return err
	}
	row.balance -= units
	supply.TotalSupply -= units
	return s.write(ctx, conn, supply, holder, row)
}

func (s *PostgresStore) BalanceOf(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error) {
	return s.scanHolderColumn(ctx, `SELECT balance::text FROM ledger_balances WHERE series_id = $1 AND holder = $2`, seriesID, holder)
}

func (s *PostgresStore) RedeemedOf(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error) {
	return s.scanHolderColumn(ctx, `SELECT redeemed::text FROM ledger_balances WHERE series_id = $1 AND holder = $2`, seriesID, holder)
}

func (s *PostgresStore) scanHolderColumn(ctx context.Context, query string, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error) {
	var v string
	err := postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx, query, int64(seriesID), string(holder)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %d/%s: %w", seriesID, holder, err)
	}
	return postgres.ParseNumeric(v)
}

func (s *PostgresStore) Supply(ctx context.Context, seriesID domain.SeriesID) (ledger.Supply, error) {
	supply := ledger.Supply{SeriesID: seriesID}
	var totalSupply, totalRedeemed string
	err := postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT total_supply::text, total_redeemed::text FROM ledger_supply WHERE series_id = $1`,
		int64(seriesID),
	).Scan(&totalSupply, &totalRedeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return supply, nil
	}
	if err != nil {
		return supply, fmt.Errorf("read supply %d: %w", seriesID, err)
	}
	if supply.TotalSupply, err = postgres.ParseNumeric(totalSupply); err != nil {
		return supply, err
	}
	supply.TotalRedeemed, err = postgres.ParseNumeric(totalRedeemed)
	return supply, err
}

func (s *PostgresStore) Balances(ctx context.Context, seriesID domain.SeriesID) (map[domain.CallerID]uint64, error) {
	rows, err := postgres.ConnFrom(ctx, s.db).QueryContext(ctx,
		`SELECT holder, balance::text FROM ledger_balances WHERE series_id = $1 AND balance > 0`,
		int64(seriesID),
	)
	if err != nil {
		return nil, fmt.Errorf("list balances %d: %w", seriesID, err)
	}
	defer rows.Close()

	out := make(map[domain.CallerID]uint64)
	for rows.Next() {
		var holder, balance string
		if err := rows.Scan(&holder, &balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		v, err := postgres.ParseNumeric(balance)
		if err != nil {
			return nil, err
		}
		out[domain.CallerID(holder)] = v
	}
	return out, rows.Err()
}
