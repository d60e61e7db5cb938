package service

import (
	"context"
	"time"

	"bondledger/internal/platform/lock"
	dErrors "bondledger/pkg/domain-errors"
	txcontext "bondledger/pkg/platform/tx"
)

// LedgerTx runs fn as one all-or-nothing unit while holding keys. A call made
// with a context that already carries a transaction joins it: keys it already
// holds are not locked again, and a failing nested fn undoes only its own
// changes.
type LedgerTx interface {
	RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

const defaultTxTimeout = 5 * time.Second

// lockingTx backs in-memory stores: locks from a Locker, undo via a journal.
type lockingTx struct {
	locker  lock.Locker
	timeout time.Duration
}

func NewLockingTx(locker lock.Locker, timeout time.Duration) LedgerTx {
	return &lockingTx{locker: locker, timeout: timeout}
}

func (t *lockingTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if parent, ok := txcontext.JournalFrom(ctx); ok {
		return t.nested(ctx, parent, keys, fn)
	}

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	keys = lock.Normalize(keys)
	release, err := t.locker.Acquire(ctx, keys)
	if err != nil {
		return storeError(err, "failed to acquire ledger locks")
	}
	defer release()

	journal := &txcontext.Journal{}
	txCtx := lock.WithHeld(txcontext.WithJournal(ctx, journal), keys)
	if err := fn(txCtx); err != nil {
		journal.Rollback()
		return err
	}
	journal.Commit()
	return nil
}

func (t *lockingTx) nested(ctx context.Context, parent *txcontext.Journal, keys []string, fn func(ctx context.Context) error) error {
	release := func() {}
	if missing := lock.Missing(ctx, keys); len(missing) > 0 {
		var err error
		release, err = t.locker.Acquire(ctx, missing)
		if err != nil {
			return storeError(err, "failed to acquire ledger locks")
		}
		ctx = lock.WithHeld(ctx, missing)
	}
	child := &txcontext.Journal{}
	if err := fn(txcontext.WithJournal(ctx, child)); err != nil {
		child.Rollback()
		release()
		return err
	}
	// Keys taken here stay held until the outer transaction finishes.
	parent.Record(child.Rollback)
	parent.Defer(release)
	return nil
}
