package store

import (
	"context"
	"sync"
	"time"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
	txcontext "bondledger/pkg/platform/tx"
)

type InMemory struct {
	mu    sync.RWMutex
	owner domain.CallerID
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Get(_ context.Context) (domain.CallerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner.IsNull() {
		return domain.NullCaller, sentinel.ErrNotFound
	}
	return s.owner, nil
}

func (s *InMemory) Set(ctx context.Context, owner domain.CallerID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.owner
	s.owner = owner
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.owner = previous
	})
	return nil
}
