package store

import (
	"context"
	"sync"

	"bondledger/internal/ledger"
	"bondledger/pkg/domain"
	txcontext "bondledger/pkg/platform/tx"
)

// InMemory keeps one ledger per series. Each mutation snapshots the touched
// ledger so a surrounding transaction can restore it.
type InMemory struct {
	mu      sync.RWMutex
	ledgers map[domain.SeriesID]*ledger.Ledger
}

func NewInMemory() *InMemory {
	return &InMemory{ledgers: make(map[domain.SeriesID]*ledger.Ledger)}
}

func (s *InMemory) mutate(ctx context.Context, seriesID domain.SeriesID, fn func(l *ledger.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, existed := s.ledgers[seriesID]
	if !existed {
		current = ledger.New(seriesID)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.ledgers[seriesID] = next
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.ledgers[seriesID] = current
		} else {
			delete(s.ledgers, seriesID)
		}
	})
	return nil
}

func (s *InMemory) Mint(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error {
	return s.mutate(ctx, seriesID, func(l *ledger.Ledger) error {
		return l.Mint(holder, units)
	})
}

func (s *InMemory) Burn(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error {
	return s.mutate(ctx, seriesID, func(l *ledger.Ledger) error {
		return l.Burn(holder, units)
	})
}

func (s *InMemory) read(seriesID domain.SeriesID) *ledger.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.ledgers[seriesID]; ok {
		return l
	}
	return ledger.New(seriesID)
}

func (s *InMemory) BalanceOf(_ context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error) {
	return s.read(seriesID).BalanceOf(holder), nil
}

func (s *InMemory) RedeemedOf(_ context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error) {
	return s.read(seriesID).RedeemedOf(holder), nil
}

func (s *InMemory) Supply(_ context.Context, seriesID domain.SeriesID) (ledger.Supply, error) {
	l := s.read(seriesID)
	return ledger.Supply{SeriesID: seriesID, TotalSupply: l.TotalSupply, TotalRedeemed: l.TotalRedeemed}, nil
}

func (s *InMemory) Balances(_ context.Context, seriesID domain.SeriesID) (map[domain.CallerID]uint64, error) {
	return s.read(seriesID).Balances(), nil
}
