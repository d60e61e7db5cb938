package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "bondledger/pkg/domain-errors"
	txcontext "bondledger/pkg/platform/tx"
)

type InvestmentStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *InvestmentStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
}

func TestInvestmentStoreSuite(t *testing.T) {
	suite.Run(t, new(InvestmentStoreSuite))
}

func (s *InvestmentStoreSuite) TestRecordAndList() {
	idx, err := s.store.Record(s.ctx, "alice", 1, 100, s.now)
	s.Require().NoError(err)
	s.Equal(0, idx)
	idx, err = s.store.Record(s.ctx, "alice", 3, 50, s.now)
	s.Require().NoError(err)
	s.Equal(1, idx)

	lots, err := s.store.ListFor(s.ctx, "alice")
	s.Require().NoError(err)
	s.Len(lots, 2)

	empty, err := s.store.ListFor(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *InvestmentStoreSuite) TestMarkRedeemed() {
	_, err := s.store.Record(s.ctx, "alice", 1, 100, s.now)
	s.Require().NoError(err)

	s.Run("unknown investor is out of range", func() {
		_, err := s.store.MarkRedeemed(s.ctx, "bob", 0, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeIndexOutOfRange))
	})

	s.Run("second redemption is rejected", func() {
		_, err := s.store.MarkRedeemed(s.ctx, "alice", 0, s.now)
		s.Require().NoError(err)
		_, err = s.store.MarkRedeemed(s.ctx, "alice", 0, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRedeemed))
	})
}

func (s *InvestmentStoreSuite) TestRollbackUnflags() {
	_, err := s.store.Record(s.ctx, "alice", 1, 100, s.now)
	s.Require().NoError(err)

	journal := &txcontext.Journal{}
	ctx := txcontext.WithJournal(s.ctx, journal)
	_, err = s.store.MarkRedeemed(ctx, "alice", 0, s.now)
	s.Require().NoError(err)
	journal.Rollback()

	lot, err := s.store.Get(s.ctx, "alice", 0)
	s.Require().NoError(err)
	s.False(lot.Redeemed)
	s.Nil(lot.RedeemedAt)
}
