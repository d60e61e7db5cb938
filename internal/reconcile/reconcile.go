// Package reconcile records collateral movements that escaped their
// transaction: a payout that went out for a redemption that then failed to
// commit, or a purchase deposit whose refund failed. Entries stay open until
// an operator resolves them.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

type Kind string

const (
	// KindUncommittedPayout: collateral was disbursed but the redemption
	// rolled back, so the claim is still redeemable.
	KindUncommittedPayout Kind = "uncommitted_payout"
	// KindFailedRefund: a purchase failed after its deposit and the refund
	// did not go through.
	KindFailedRefund Kind = "failed_refund"
)

// Entry is one open discrepancy between the ledger and the collateral side.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Holder     domain.CallerID `json:"holder"`
	SeriesID   domain.SeriesID `json:"series_id,omitempty"`
	LotIndex   *int            `json:"lot_index,omitempty"`
	Amount     uint64          `json:"amount"`
	Cause      string          `json:"cause"`
	RecordedAt time.Time       `json:"recorded_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

func NewEntry(kind Kind, holder domain.CallerID, amount uint64, cause error, now time.Time) (*Entry, error) {
	if kind != KindUncommittedPayout && kind != KindFailedRefund {
		return nil, dErrors.Newf(dErrors.CodeInvalidParameter, "unknown reconciliation kind %q", kind)
	}
	if holder.IsNull() {
		return nil, dErrors.New(dErrors.CodeInvalidParameter, "reconciliation holder must not be the null identity")
	}
	e := &Entry{
		ID:         uuid.New(),
		Kind:       kind,
		Holder:     holder,
		Amount:     amount,
		RecordedAt: now.UTC(),
	}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e, nil
}

func (e *Entry) Open() bool { return e.ResolvedAt == nil }

// Resolve closes the entry. Resolving twice keeps the first resolution time.
func (e *Entry) Resolve(now time.Time) bool {
	if !e.Open() {
		return false
	}
	at := now.UTC()
	e.ResolvedAt = &at
	return true
}
