package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	txcontext "bondledger/pkg/platform/tx"
)

type LedgerStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *LedgerStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestLedgerStoreSuite(t *testing.T) {
	suite.Run(t, new(LedgerStoreSuite))
}

func (s *LedgerStoreSuite) sum(seriesID domain.SeriesID) uint64 {
	balances, err := s.store.Balances(s.ctx, seriesID)
	s.Require().NoError(err)
	var total uint64
	for _, b := range balances {
		total += b
	}
	return total
}

func (s *LedgerStoreSuite) TestSeriesAreIndependent() {
	s.Require().NoError(s.store.Mint(s.ctx, 1, "alice", 100))
	s.Require().NoError(s.store.Mint(s.ctx, 2, "alice", 7))

	b1, err := s.store.BalanceOf(s.ctx, 1, "alice")
	s.Require().NoError(err)
	b2, err := s.store.BalanceOf(s.ctx, 2, "alice")
	s.Require().NoError(err)
	s.Equal(uint64(100), b1)
	s.Equal(uint64(7), b2)
}

func (s *LedgerStoreSuite) TestFailedBurnLeavesStateIntact() {
	s.Require().NoError(s.store.Mint(s.ctx, 1, "alice", 100))
	err := s.store.Burn(s.ctx, 1, "alice", 101)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

	supply, err := s.store.Supply(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(100), supply.TotalSupply)
	s.Equal(s.sum(1), supply.TotalSupply)
}

func (s *LedgerStoreSuite) TestRollbackRestoresLedger() {
	s.Require().NoError(s.store.Mint(s.ctx, 1, "alice", 100))

	journal := &txcontext.Journal{}
	ctx := txcontext.WithJournal(s.ctx, journal)
	s.Require().NoError(s.store.Burn(ctx, 1, "alice", 60))
	s.Require().NoError(s.store.Mint(ctx, 1, "bob", 5))
	journal.Rollback()

	alice, _ := s.store.BalanceOf(s.ctx, 1, "alice")
	bob, _ := s.store.BalanceOf(s.ctx, 1, "bob")
	redeemed, _ := s.store.RedeemedOf(s.ctx, 1, "alice")
	s.Equal(uint64(100), alice)
	s.Zero(bob)
	s.Zero(redeemed)
}

func (s *LedgerStoreSuite) TestConcurrentMintsConserve() {
	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := domain.CallerID([]string{"alice", "bob", "carol"}[i%3])
			s.NoError(s.store.Mint(s.ctx, 1, holder, 10))
		}(i)
	}
	wg.Wait()

	supply, err := s.store.Supply(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(workers*10), supply.TotalSupply)
	s.Equal(s.sum(1), supply.TotalSupply)
}
