package store

import (
	"context"
	"sort"
	"sync"

	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
	txcontext "bondledger/pkg/platform/tx"
)

// InMemory is a series registry backed by a map. Mutations made inside a
// transaction record undo steps in the context journal.
type InMemory struct {
	mu     sync.RWMutex
	series map[domain.SeriesID]*models.Series
	lastID domain.SeriesID
}

func NewInMemory() *InMemory {
	return &InMemory{series: make(map[domain.SeriesID]*models.Series)}
}

// NextID reserves the next sequential identifier. A rolled back reservation
// is released, so ids stay gapless for committed series.
func (s *InMemory) NextID(ctx context.Context) (domain.SeriesID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lastID
	s.lastID++
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		s.lastID = prev
		s.mu.Unlock()
	})
	return s.lastID, nil
}

func (s *InMemory) Create(ctx context.Context, series *models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[series.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.series[series.ID] = series.Clone()
	id := series.ID
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		delete(s.series, id)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.SeriesID) (*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if series, ok := s.series[id]; ok {
		return series.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Update(ctx context.Context, series *models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.series[series.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.series[series.ID] = series.Clone()
	txcontext.RecordIn(ctx, func() {
		s.mu.Lock()
		s.series[prev.ID] = prev
		s.mu.Unlock()
	})
	return nil
}

// List returns all series ordered by id.
func (s *InMemory) List(_ context.Context) ([]*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Series, 0, len(s.series))
	for _, series := range s.series {
		out = append(out, series.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
