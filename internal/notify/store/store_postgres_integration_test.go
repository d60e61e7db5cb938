//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bondledger/internal/notify"
	"bondledger/internal/notify/store"
	txcontext "bondledger/pkg/platform/tx"
	"bondledger/pkg/testutil/containers"
)

type OutboxPostgresSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *store.PostgresStore
	publisher *notify.Publisher
}

func TestOutboxPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxPostgresSuite))
}

func (s *OutboxPostgresSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.publisher = notify.NewPublisher(s.store)
}

func (s *OutboxPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
}

func (s *OutboxPostgresSuite) TestPendingInAppendOrder() {
	ctx := context.Background()
	for _, typ := range []notify.EventType{notify.EventSeriesCreated, notify.EventPurchased, notify.EventRedeemed} {
		s.Require().NoError(s.publisher.Emit(ctx, notify.Event{Type: typ, SeriesID: 3}))
	}

	pending, err := s.store.Pending(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(notify.EventSeriesCreated, pending[0].Type)
	s.Less(pending[0].Seq, pending[1].Seq)

	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{pending[0].ID, pending[1].ID}, time.Now()))
	rest, err := s.store.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Equal(notify.EventRedeemed, rest[0].Type)

	event, err := notify.Decode(rest[0])
	s.Require().NoError(err)
	s.Equal("series:3", event.AggregateID())
}

func (s *OutboxPostgresSuite) TestRolledBackAppendIsNeverPending() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.publisher.Emit(txcontext.WithTx(ctx, tx), notify.Event{Type: notify.EventPurchased, SeriesID: 1}))
	s.Require().NoError(tx.Rollback())

	pending, err := s.store.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}
