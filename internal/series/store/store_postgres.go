package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bondledger/internal/platform/postgres"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

// PostgresStore persists series in the bond_series table. Calls join the
// transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const seriesColumns = `id, name, symbol, model, interest_bps, maturity, total_issued::text, active, created_at, updated_at`

// NextID bumps the series sequence row. Inside a transaction the row lock
// serializes concurrent creators and a rollback returns the id.
func (s *PostgresStore) NextID(ctx context.Context) (domain.SeriesID, error) {
	var next int64
	err := postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx,
		`UPDATE ledger_sequences SET value = value + 1 WHERE name = 'series' RETURNING value`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next series id: %w", err)
	}
	return domain.SeriesID(next), nil
}

func (s *PostgresStore) Create(ctx context.Context, series *models.Series) error {
	conn := postgres.ConnFrom(ctx, s.db)
	res, err := conn.ExecContext(ctx, `
		INSERT INTO bond_series (id, name, symbol, model, interest_bps, maturity, total_issued, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		int64(series.ID), series.Name, series.Symbol, string(series.Model), int64(series.InterestBps),
		series.Maturity, postgres.Numeric(series.TotalIssued), series.Active, series.CreatedAt, series.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert series %d: %w", series.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO ledger_supply (series_id) VALUES ($1) ON CONFLICT (series_id) DO NOTHING`,
		int64(series.ID),
	); err != nil {
		return fmt.Errorf("insert supply row %d: %w", series.ID, err)
	}
	return nil
}

// FindByID locks the row FOR UPDATE when called inside a transaction.
func (s *PostgresStore) FindByID(ctx context.Context, id domain.SeriesID) (*models.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM bond_series WHERE id = $1`
	if postgres.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	series, err := scanSeries(postgres.ConnFrom(ctx, s.db).QueryRowContext(ctx, query, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find series %d: %w", id, err)
	}
	return series, nil
}

func (s *PostgresStore) Update(ctx context.Context, series *models.Series) error {
	res, err := postgres.ConnFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE bond_series SET total_issued = $2::numeric, active = $3, updated_at = $4
		WHERE id = $1`,
		int64(series.ID), postgres.Numeric(series.TotalIssued), series.Active, series.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update series %d: %w", series.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Series, error) {
	rows, err := postgres.ConnFrom(ctx, s.db).QueryContext(ctx, `SELECT `+seriesColumns+` FROM bond_series ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var out []*models.Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*models.Series, error) {
	var (
		s           models.Series
		id          int64
		model       string
		bps         int64
		totalIssued string
	)
	if err := row.Scan(&id, &s.Name, &s.Symbol, &model, &bps, &s.Maturity, &totalIssued, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	issued, err := postgres.ParseNumeric(totalIssued)
	if err != nil {
		return nil, err
	}
	s.ID = domain.SeriesID(id)
	s.Model = models.Model(model)
	s.InterestBps = uint32(bps)
	s.TotalIssued = issued
	s.Maturity = s.Maturity.UTC()
	return &s, nil
}
