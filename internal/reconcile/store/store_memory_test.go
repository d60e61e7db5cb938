package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bondledger/internal/reconcile"
	"bondledger/pkg/platform/sentinel"
	txcontext "bondledger/pkg/platform/tx"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemorySuite) entry(kind reconcile.Kind, at time.Time) *reconcile.Entry {
	e, err := reconcile.NewEntry(kind, "alice", 1050, errors.New("commit failed"), at)
	s.Require().NoError(err)
	return e
}

func (s *InMemorySuite) TestListOpenInRecordOrder() {
	second := s.entry(reconcile.KindFailedRefund, s.now.Add(time.Minute))
	first := s.entry(reconcile.KindUncommittedPayout, s.now)
	s.Require().NoError(s.store.Record(s.ctx, second))
	s.Require().NoError(s.store.Record(s.ctx, first))
	s.ErrorIs(s.store.Record(s.ctx, first), sentinel.ErrAlreadyUsed)

	open, err := s.store.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(first.ID, open[0].ID)
	s.Equal(second.ID, open[1].ID)
}

func (s *InMemorySuite) TestResolve() {
	e := s.entry(reconcile.KindUncommittedPayout, s.now)
	s.Require().NoError(s.store.Record(s.ctx, e))

	resolved, err := s.store.Resolve(s.ctx, e.ID, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.False(resolved.Open())

	open, err := s.store.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Empty(open)

	_, err = s.store.Resolve(s.ctx, uuid.New(), s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestEntriesSurviveRollback() {
	journal := &txcontext.Journal{}
	ctx := txcontext.WithJournal(s.ctx, journal)
	s.Require().NoError(s.store.Record(ctx, s.entry(reconcile.KindUncommittedPayout, s.now)))
	journal.Rollback()

	open, err := s.store.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Len(open, 1)
}
