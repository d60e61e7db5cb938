package tx

import (
	"context"
	"database/sql"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Detach returns ctx without its SQL transaction or journal. Writes made with
// it are not undone when the surrounding transaction rolls back.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, txKey, nil)
	return context.WithValue(ctx, journalKey{}, nil)
}

type journalKey struct{}

// Journal collects undo steps for in-memory stores mutated inside a
// transaction. Rollback replays them newest first.
type Journal struct {
	mu       sync.Mutex
	undo     []func()
	deferred []func()
}

// WithJournal stores j in context. In-memory stores record their undo steps
// into the journal found in the context they are called with.
func WithJournal(ctx context.Context, j *Journal) context.Context {
	if j == nil {
		return ctx
	}
	return context.WithValue(ctx, journalKey{}, j)
}

// JournalFrom extracts the journal from context if present.
func JournalFrom(ctx context.Context) (*Journal, bool) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	return j, ok
}

// Record registers an undo step. Stores call it after applying a mutation.
func (j *Journal) Record(undo func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, undo)
}

// Defer registers fn to run once the journal is committed or rolled back.
func (j *Journal) Defer(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deferred = append(j.deferred, fn)
}

// Rollback applies the recorded undo steps in reverse order and clears them.
func (j *Journal) Rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
	j.finish()
}

// Commit drops the recorded undo steps.
func (j *Journal) Commit() {
	j.mu.Lock()
	j.undo = nil
	j.mu.Unlock()
	j.finish()
}

func (j *Journal) finish() {
	j.mu.Lock()
	deferred := j.deferred
	j.deferred = nil
	j.mu.Unlock()
	for i := len(deferred) - 1; i >= 0; i-- {
		deferred[i]()
	}
}

// Len reports the number of pending undo steps.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.undo)
}

// RecordIn records undo into the journal carried by ctx, if any. Stores
// mutated outside a transaction have nothing to roll back to.
func RecordIn(ctx context.Context, undo func()) {
	if j, ok := JournalFrom(ctx); ok {
		j.Record(undo)
	}
}
