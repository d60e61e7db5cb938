package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"bondledger/internal/notify"
	txcontext "bondledger/pkg/platform/tx"
)

// InMemory is an outbox kept in a slice ordered by sequence number.
type InMemory struct {
	mu      sync.Mutex
	entries []notify.Entry
	seq     int64
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry notify.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	entry.Seq = s.seq
	s.entries = append(s.entries, entry)
	id := entry.ID
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = slices.DeleteFunc(s.entries, func(e notify.Entry) bool { return e.ID == id })
	})
	return nil
}

func (s *InMemory) Pending(_ context.Context, limit int) ([]notify.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Entry
	for _, e := range s.entries {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if slices.Contains(ids, s.entries[i].ID) && s.entries[i].PublishedAt == nil {
			t := at
			s.entries[i].PublishedAt = &t
		}
	}
	return nil
}

// All returns every entry, published or not, in sequence order.
func (s *InMemory) All() []notify.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}
