//go:build integration

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/access"
	accessstore "bondledger/internal/access/store"
	"bondledger/internal/bond/service"
	"bondledger/internal/escrow"
	investmentstore "bondledger/internal/investment/store"
	ledgerstore "bondledger/internal/ledger/store"
	"bondledger/internal/notify"
	notifystore "bondledger/internal/notify/store"
	"bondledger/internal/series/models"
	seriesstore "bondledger/internal/series/store"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/testutil/containers"
)

const owner domain.CallerID = "issuer"

// failingGateway wraps the collateral ledger and can fail disbursements.
type failingGateway struct {
	*escrow.Collateral
	mu       sync.Mutex
	failNext bool
	reenter  func(ctx context.Context) error
	innerErr error
}

func (g *failingGateway) Disburse(ctx context.Context, to domain.CallerID, value uint64) error {
	g.mu.Lock()
	fail, reenter := g.failNext, g.reenter
	g.failNext, g.reenter = false, nil
	g.mu.Unlock()
	if fail {
		return errors.New("vault frozen")
	}
	if reenter != nil {
		g.innerErr = reenter(ctx)
	}
	return g.Collateral.Disburse(ctx, to, value)
}

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	clock    time.Time
	gateway  *failingGateway
	outbox   *notifystore.PostgresStore
	svc      *service.Service
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresLedgerSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"outbox", "investment_lots", "ledger_balances", "ledger_supply", "bond_series", "ledger_owner"))
	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE ledger_sequences SET value = 0 WHERE name = 'series'`)
	s.Require().NoError(err)

	db := s.postgres.DB
	s.clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	authority := access.NewAuthority(accessstore.NewPostgres(db))
	_, err = authority.Bootstrap(ctx, owner, s.clock)
	s.Require().NoError(err)

	s.gateway = &failingGateway{Collateral: escrow.NewCollateral("vault")}
	s.outbox = notifystore.NewPostgres(db)
	s.svc = service.New(
		service.Stores{
			Series:      seriesstore.NewPostgres(db),
			Ledger:      ledgerstore.NewPostgres(db),
			Investments: investmentstore.NewPostgres(db),
		},
		authority,
		s.gateway,
		newLedgerPostgresTx(db, nil, 5*time.Second),
		service.WithClock(func() time.Time { return s.clock }),
		service.WithNotifier(notify.NewPublisher(s.outbox)),
	)
}

func (s *PostgresLedgerSuite) createSeries(model models.Model) *models.Series {
	series, err := s.svc.CreateSeries(context.Background(), owner, service.CreateSeriesRequest{
		InterestBps:    500,
		MaturityOffset: 24 * time.Hour,
		Model:          model,
	})
	s.Require().NoError(err)
	return series
}

func (s *PostgresLedgerSuite) pendingTypes() []notify.EventType {
	entries, err := s.outbox.Pending(context.Background(), 100)
	s.Require().NoError(err)
	var out []notify.EventType
	for _, e := range entries {
		out = append(out, e.Type)
	}
	return out
}

func (s *PostgresLedgerSuite) TestEndToEnd() {
	ctx := context.Background()
	series := s.createSeries(models.ModelFungible)
	s.Equal(domain.SeriesID(1), series.ID)
	s.Require().NoError(s.gateway.Credit("alice", 1000))
	s.Require().NoError(s.gateway.Credit("vault", 50))

	_, err := s.svc.Purchase(ctx, "alice", series.ID, 1000)
	s.Require().NoError(err)

	_, err = s.svc.Redeem(ctx, "alice", service.BalanceClaim{SeriesID: series.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeNotMatured), "got %v", err)

	s.clock = series.Maturity
	r, err := s.svc.Redeem(ctx, "alice", service.BalanceClaim{SeriesID: series.ID})
	s.Require().NoError(err)
	s.Equal(uint64(1050), r.Payout)

	_, err = s.svc.Redeem(ctx, "alice", service.BalanceClaim{SeriesID: series.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRedeemed), "got %v", err)

	report, err := s.svc.Supply(ctx, series.ID)
	s.Require().NoError(err)
	s.True(report.Conserved)
	s.Equal([]notify.EventType{notify.EventSeriesCreated, notify.EventPurchased, notify.EventRedeemed}, s.pendingTypes())
}

func (s *PostgresLedgerSuite) TestDisbursementFailureRollsBack() {
	ctx := context.Background()
	series := s.createSeries(models.ModelFungible)
	s.Require().NoError(s.gateway.Credit("alice", 1000))
	s.Require().NoError(s.gateway.Credit("vault", 50))
	_, err := s.svc.Purchase(ctx, "alice", series.ID, 1000)
	s.Require().NoError(err)
	s.clock = series.Maturity

	s.gateway.failNext = true
	_, err = s.svc.Redeem(ctx, "alice", service.BalanceClaim{SeriesID: series.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeEscrowFailure), "got %v", err)

	balance, err := s.svc.BalanceOf(ctx, series.ID, "alice")
	s.Require().NoError(err)
	s.Equal(uint64(1000), balance)
	s.NotContains(s.pendingTypes(), notify.EventRedeemed)
}

func (s *PostgresLedgerSuite) TestReentrantRedeemSeesSettledLot() {
	ctx := context.Background()
	series := s.createSeries(models.ModelLot)
	s.Require().NoError(s.gateway.Credit("bob", 100))
	s.Require().NoError(s.gateway.Credit("vault", 5))
	receipt, err := s.svc.PurchaseLot(ctx, "bob", series.ID, 100)
	s.Require().NoError(err)
	s.clock = series.Maturity

	claim := service.LotClaim{Index: receipt.Index}
	s.gateway.reenter = func(ctx context.Context) error {
		_, err := s.svc.Redeem(ctx, "bob", claim)
		return err
	}
	_, err = s.svc.Redeem(ctx, "bob", claim)
	s.Require().NoError(err)
	s.True(dErrors.HasCode(s.gateway.innerErr, dErrors.CodeAlreadyRedeemed), "got %v", s.gateway.innerErr)
	s.Equal(uint64(105), s.gateway.BalanceOf("bob"))
}

func (s *PostgresLedgerSuite) TestConcurrentPurchasesConserve() {
	ctx := context.Background()
	series := s.createSeries(models.ModelFungible)
	holders := []domain.CallerID{"h1", "h2", "h3", "h4"}
	for _, h := range holders {
		s.Require().NoError(s.gateway.Credit(h, 50))
	}

	var wg sync.WaitGroup
	for _, h := range holders {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(holder domain.CallerID) {
				defer wg.Done()
				_, err := s.svc.Purchase(ctx, holder, series.ID, 10)
				s.NoError(err)
			}(h)
		}
	}
	wg.Wait()

	report, err := s.svc.Supply(ctx, series.ID)
	s.Require().NoError(err)
	s.True(report.Conserved)
	s.Equal(uint64(200), report.TotalIssued)
}
