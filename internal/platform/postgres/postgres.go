// Package postgres opens the ledger database, applies embedded migrations and
// provides the helpers postgres stores share.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"

	txcontext "bondledger/pkg/platform/tx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds connection pool settings.
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	n, err := Migrate(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		logger.InfoContext(ctx, "postgres migrations applied", "count", n)
	}
	return db, nil
}

// Migrate applies pending embedded migrations and returns how many ran.
func Migrate(db *sql.DB) (int, error) {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}

// Conn is satisfied by both *sql.DB and *sql.Tx.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConnFrom returns the transaction carried by ctx, or db when there is none.
func ConnFrom(ctx context.Context, db *sql.DB) Conn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

// InTx reports whether ctx carries a SQL transaction.
func InTx(ctx context.Context) bool {
	_, ok := txcontext.From(ctx)
	return ok
}

// Numeric renders an unsigned amount for a NUMERIC(20,0) column. lib/pq only
// binds signed 64-bit integers, so amounts travel as decimal text.
func Numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// ParseNumeric parses a NUMERIC(20,0) column scanned as text.
func ParseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
