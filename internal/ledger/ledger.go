// Package ledger implements the per-series fungible balance ledger.
package ledger

import (
	"maps"

	"bondledger/pkg/amount"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

// Ledger is the fungible unit accounting of one bond series.
//
// Invariants:
//   - sum(balances) == TotalSupply after every operation
//   - balances are never negative (burn requires balance >= amount)
//   - TotalRedeemed only grows; TotalSupply + TotalRedeemed equals every unit
//     ever minted
//
// Units are minted 1:1 with principal, so a holder's balance is also the
// principal they can redeem.
type Ledger struct {
	SeriesID      domain.SeriesID
	TotalSupply   uint64
	TotalRedeemed uint64
	balances      map[domain.CallerID]uint64
	redeemed      map[domain.CallerID]uint64
}

// New returns an empty ledger for a series.
func New(seriesID domain.SeriesID) *Ledger {
	return &Ledger{
		SeriesID: seriesID,
		balances: make(map[domain.CallerID]uint64),
		redeemed: make(map[domain.CallerID]uint64),
	}
}

// Mint credits amount units to holder. Both additions are checked before
// either is applied, so an overflow leaves the ledger unchanged.
func (l *Ledger) Mint(holder domain.CallerID, units uint64) error {
	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidParameter, "mint amount must be positive")
	}
	if holder.IsNull() {
		return dErrors.New(dErrors.CodeInvalidParameter, "cannot mint to the null identity")
	}
	balance, err := amount.Add(l.balances[holder], units)
	if err != nil {
		return err
	}
	supply, err := amount.Add(l.TotalSupply, units)
	if err != nil {
		return err
	}
	l.balances[holder] = balance
	l.TotalSupply = supply
	return nil
}

// Burn removes units from holder as a redemption.
func (l *Ledger) Burn(holder domain.CallerID, units uint64) error {
	if units == 0 {
		return dErrors.New(dErrors.CodeInvalidParameter, "burn amount must be positive")
	}
	balance := l.balances[holder]
	if balance < units {
		return dErrors.Newf(dErrors.CodeInsufficientBalance, "balance %d is less than %d", balance, units)
	}
	redeemedTotal, err := amount.Add(l.TotalRedeemed, units)
	if err != nil {
		return err
	}
	holderRedeemed, err := amount.Add(l.redeemed[holder], units)
	if err != nil {
		return err
	}
	if balance == units {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = balance - units
	}
	l.TotalSupply -= units
	l.TotalRedeemed = redeemedTotal
	l.redeemed[holder] = holderRedeemed
	return nil
}

func (l *Ledger) BalanceOf(holder domain.CallerID) uint64 {
	return l.balances[holder]
}

// RedeemedOf is the principal holder has already redeemed from this series.
func (l *Ledger) RedeemedOf(holder domain.CallerID) uint64 {
	return l.redeemed[holder]
}

// Balances returns a snapshot of every non-zero balance.
func (l *Ledger) Balances() map[domain.CallerID]uint64 {
	return maps.Clone(l.balances)
}

// Conserved reports whether sum(balances) == TotalSupply.
func (l *Ledger) Conserved() bool {
	var sum uint64
	for _, b := range l.balances {
		next, err := amount.Add(sum, b)
		if err != nil {
			return false
		}
		sum = next
	}
	return sum == l.TotalSupply
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{
		SeriesID:      l.SeriesID,
		TotalSupply:   l.TotalSupply,
		TotalRedeemed: l.TotalRedeemed,
		balances:      maps.Clone(l.balances),
		redeemed:      maps.Clone(l.redeemed),
	}
}

// Supply is the aggregate view of a series ledger.
type Supply struct {
	SeriesID      domain.SeriesID `json:"series_id"`
	TotalSupply   uint64          `json:"total_supply"`
	TotalRedeemed uint64          `json:"total_redeemed"`
}
