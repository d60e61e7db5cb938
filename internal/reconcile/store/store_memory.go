package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bondledger/internal/reconcile"
	"bondledger/pkg/platform/sentinel"
)

// InMemory ignores any transaction in ctx: an entry exists precisely because
// the transaction around it failed.
type InMemory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*reconcile.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[uuid.UUID]*reconcile.Entry)}
}

func (s *InMemory) Record(_ context.Context, entry *reconcile.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

func (s *InMemory) ListOpen(_ context.Context) ([]*reconcile.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reconcile.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Open() {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *InMemory) Resolve(_ context.Context, id uuid.UUID, now time.Time) (*reconcile.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.Resolve(now)
	cp := *e
	return &cp, nil
}
