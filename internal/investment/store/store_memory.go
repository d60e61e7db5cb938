package store

import (
	"context"
	"sync"
	"time"

	"bondledger/internal/investment"
	"bondledger/pkg/domain"
	txcontext "bondledger/pkg/platform/tx"
)

// InMemory keeps each investor's lot list in a map.
type InMemory struct {
	mu      sync.RWMutex
	records map[domain.CallerID]*investment.Records
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[domain.CallerID]*investment.Records)}
}

func (s *InMemory) mutate(ctx context.Context, investor domain.CallerID, fn func(r *investment.Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, existed := s.records[investor]
	if !existed {
		current = &investment.Records{}
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.records[investor] = next
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.records[investor] = current
		} else {
			delete(s.records, investor)
		}
	})
	return nil
}

func (s *InMemory) Record(ctx context.Context, investor domain.CallerID, seriesID domain.SeriesID, amount uint64, now time.Time) (int, error) {
	var idx int
	err := s.mutate(ctx, investor, func(r *investment.Records) error {
		var err error
		idx, err = r.Append(seriesID, amount, now)
		return err
	})
	return idx, err
}

func (s *InMemory) MarkRedeemed(ctx context.Context, investor domain.CallerID, index int, now time.Time) (investment.Lot, error) {
	var lot investment.Lot
	err := s.mutate(ctx, investor, func(r *investment.Records) error {
		var err error
		lot, err = r.MarkRedeemed(index, now)
		return err
	})
	return lot, err
}

func (s *InMemory) Get(_ context.Context, investor domain.CallerID, index int) (investment.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[investor]
	if !ok {
		r = &investment.Records{}
	}
	return r.Get(index)
}

func (s *InMemory) ListFor(_ context.Context, investor domain.CallerID) ([]investment.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[investor]; ok {
		return r.Snapshot(), nil
	}
	return []investment.Lot{}, nil
}
