// Package investment implements the per-lot accounting model: each purchase
// is a discrete lot that is redeemed exactly once.
package investment

import (
	"time"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Lot is one purchase event. Index is the lot's position in its investor's
// record list and never changes.
type Lot struct {
	Index       int             `json:"index"`
	SeriesID    domain.SeriesID `json:"series_id"`
	Amount      uint64          `json:"amount"`
	Redeemed    bool            `json:"redeemed"`
	PurchasedAt time.Time       `json:"purchased_at"`
	RedeemedAt  *time.Time      `json:"redeemed_at,omitempty"`
}

// Records is an investor's ordered, append-only lot list.
type Records struct {
	lots []Lot
}

// Append adds an unredeemed lot and returns its index.
func (r *Records) Append(seriesID domain.SeriesID, amount uint64, now time.Time) (int, error) {
	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidParameter, "investment amount must be positive")
	}
	if seriesID.IsZero() {
		return 0, dErrors.New(dErrors.CodeInvalidParameter, "investment requires a series")
	}
	idx := len(r.lots)
	r.lots = append(r.lots, Lot{Index: idx, SeriesID: seriesID, Amount: amount, PurchasedAt: now.UTC()})
	return idx, nil
}

// Get returns the lot at index.
func (r *Records) Get(index int) (Lot, error) {
	if index < 0 || index >= len(r.lots) {
		return Lot{}, dErrors.Newf(dErrors.CodeIndexOutOfRange, "no investment at index %d", index)
	}
	return r.lots[index], nil
}

// MarkRedeemed flips the lot's redeemed flag. The flip is irreversible.
func (r *Records) MarkRedeemed(index int, now time.Time) (Lot, error) {
	lot, err := r.Get(index)
	if err != nil {
		return Lot{}, err
	}
	if lot.Redeemed {
		return Lot{}, dErrors.Newf(dErrors.CodeAlreadyRedeemed, "investment %d already redeemed", index)
	}
	at := now.UTC()
	lot.Redeemed = true
	lot.RedeemedAt = &at
	r.lots[index] = lot
	return lot, nil
}

// Snapshot returns a copy of the lot list.
func (r *Records) Snapshot() []Lot {
	out := make([]Lot, len(r.lots))
	copy(out, r.lots)
	return out
}

func (r *Records) Len() int { return len(r.lots) }

// Clone returns a deep copy.
func (r *Records) Clone() *Records {
	return &Records{lots: r.Snapshot()}
}
