package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"bondledger/internal/platform/lock"
	dErrors "bondledger/pkg/domain-errors"
	txcontext "bondledger/pkg/platform/tx"
)

const defaultLedgerTxTimeout = 5 * time.Second

// ledgerPostgresTx runs ledger operations in one SQL transaction. Keys are
// serialized with transaction scoped advisory locks, and additionally through
// locker when one is configured so several instances queue outside the
// database. A nested call joins the outer transaction through a savepoint.
type ledgerPostgresTx struct {
	db        *sql.DB
	locker    lock.Locker
	timeout   time.Duration
	savepoint atomic.Uint64
}

func newLedgerPostgresTx(db *sql.DB, locker lock.Locker, timeout time.Duration) *ledgerPostgresTx {
	return &ledgerPostgresTx{db: db, locker: locker, timeout: timeout}
}

func (t *ledgerPostgresTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return t.nested(ctx, tx, keys, fn)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultLedgerTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	keys = lock.Normalize(keys)
	if t.locker != nil {
		release, err := t.locker.Acquire(ctx, keys)
		if err != nil {
			return err
		}
		defer release()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return t.dbError(ctx, err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := advisoryLock(ctx, tx, keys); err != nil {
		return t.dbError(ctx, err, "failed to lock ledger keys")
	}

	txCtx := lock.WithHeld(txcontext.WithTx(ctx, tx), keys)
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return t.dbError(ctx, err, "failed to commit transaction")
	}
	return nil
}

// nested runs fn inside a savepoint of the ambient transaction. Advisory locks
// taken here live until the outer transaction ends.
func (t *ledgerPostgresTx) nested(ctx context.Context, tx *sql.Tx, keys []string, fn func(ctx context.Context) error) error {
	missing := lock.Missing(ctx, keys)
	if err := advisoryLock(ctx, tx, missing); err != nil {
		return t.dbError(ctx, err, "failed to lock ledger keys")
	}
	ctx = lock.WithHeld(ctx, missing)

	name := fmt.Sprintf("ledger_sp_%d", t.savepoint.Add(1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return t.dbError(ctx, err, "failed to create savepoint")
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return t.dbError(ctx, rbErr, "failed to roll back savepoint")
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return t.dbError(ctx, err, "failed to release savepoint")
	}
	return nil
}

func advisoryLock(ctx context.Context, tx *sql.Tx, keys []string) error {
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return err
		}
	}
	return nil
}

func (t *ledgerPostgresTx) dbError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
