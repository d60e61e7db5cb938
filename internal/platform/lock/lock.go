// Package lock serializes writers per ledger key ("series:<id>",
// "holder:<id>"). Keys are always taken in sorted order so two operations
// touching overlapping key sets cannot deadlock.
package lock

import (
	"context"
	"slices"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Locker acquires every key or none. The returned release func is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

const (
	OwnerKey = "owner"

	seriesPrefix = "series:"
	holderPrefix = "holder:"
)

func SeriesKey(id domain.SeriesID) string { return seriesPrefix + id.String() }

// HolderKey is the key for everything one caller owns. Postgres stores that
// take their own advisory lock on a holder use it too.
func HolderKey(c domain.CallerID) string { return holderPrefix + c.String() }

// Normalize sorts keys and drops duplicates and blanks.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

type heldKey struct{}

// WithHeld marks keys as held by the transaction running in ctx.
func WithHeld(ctx context.Context, keys []string) context.Context {
	held := make(map[string]struct{}, len(keys))
	for k := range heldSet(ctx) {
		held[k] = struct{}{}
	}
	for _, k := range keys {
		held[k] = struct{}{}
	}
	return context.WithValue(ctx, heldKey{}, held)
}

// Missing returns the keys not already held by ctx, sorted.
func Missing(ctx context.Context, keys []string) []string {
	held := heldSet(ctx)
	var out []string
	for _, k := range Normalize(keys) {
		if _, ok := held[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func heldSet(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldKey{}).(map[string]struct{})
	return held
}

func timeoutError(ctx context.Context, key string) error {
	return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for lock "+key)
}
