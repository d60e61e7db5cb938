package notify_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bondledger/internal/notify"
	"bondledger/internal/notify/sink"
	"bondledger/internal/notify/store"
	"bondledger/pkg/platform/circuit"
	txcontext "bondledger/pkg/platform/tx"
	"bondledger/pkg/requestcontext"
)

type recordingSink struct {
	batches [][]notify.Entry
	err     error
}

func (r *recordingSink) Publish(_ context.Context, entries []notify.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, entries)
	return nil
}

type flakySink struct {
	down      atomic.Bool
	delivered atomic.Int64
}

func (f *flakySink) Publish(_ context.Context, entries []notify.Entry) error {
	if f.down.Load() {
		return errors.New("broker unreachable")
	}
	f.delivered.Add(int64(len(entries)))
	return nil
}

type RelaySuite struct {
	suite.Suite
	ctx       context.Context
	outbox    *store.InMemory
	publisher *notify.Publisher
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")
	s.outbox = store.NewInMemory()
	s.publisher = notify.NewPublisher(s.outbox)
}

func (s *RelaySuite) TestEmitStagesEntry() {
	err := s.publisher.Emit(s.ctx, notify.Event{Type: notify.EventSeriesCreated, SeriesID: 7, InterestBps: 500})
	s.Require().NoError(err)

	all := s.outbox.All()
	s.Require().Len(all, 1)
	s.Equal("series:7", all[0].AggregateID)

	event, err := notify.Decode(all[0])
	s.Require().NoError(err)
	s.Equal("req-1", event.RequestID)
	s.EqualValues(500, event.InterestBps)
	s.False(event.Timestamp.IsZero())
}

func (s *RelaySuite) TestRolledBackEmitIsNeverRelayed() {
	journal := &txcontext.Journal{}
	ctx := txcontext.WithJournal(s.ctx, journal)
	s.Require().NoError(s.publisher.Emit(ctx, notify.Event{Type: notify.EventPurchased, SeriesID: 1}))
	journal.Rollback()

	rec := &recordingSink{}
	n, err := notify.NewRelay(s.outbox, rec).RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Empty(rec.batches)
}

func (s *RelaySuite) TestRelayPreservesOrderAndMarksPublished() {
	for _, typ := range []notify.EventType{notify.EventSeriesCreated, notify.EventPurchased, notify.EventRedeemed} {
		s.Require().NoError(s.publisher.Emit(s.ctx, notify.Event{Type: typ, SeriesID: 1}))
	}

	rec := &recordingSink{}
	relay := notify.NewRelay(s.outbox, rec, notify.WithBatchSize(2))

	n, err := relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	n, err = relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.Require().Len(rec.batches, 2)
	s.Equal(notify.EventSeriesCreated, rec.batches[0][0].Type)
	s.Equal(notify.EventPurchased, rec.batches[0][1].Type)
	s.Equal(notify.EventRedeemed, rec.batches[1][0].Type)
}

func (s *RelaySuite) TestSinkFailureLeavesEntriesPending() {
	s.Require().NoError(s.publisher.Emit(s.ctx, notify.Event{Type: notify.EventPurchased, SeriesID: 1}))

	failing := &recordingSink{err: errors.New("unavailable")}
	_, err := notify.NewRelay(s.outbox, failing).RelayOnce(s.ctx)
	s.Require().Error(err)

	pending, err := s.outbox.Pending(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *RelaySuite) TestRunDeliversToChannelUntilCancelled() {
	s.Require().NoError(s.publisher.Emit(s.ctx, notify.Event{Type: notify.EventRedeemed, SeriesID: 3, Payout: 1050}))

	out := make(chan notify.Event, 4)
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		done <- notify.NewRelay(s.outbox, sink.NewChannel(out), notify.WithPollInterval(5*time.Millisecond)).Run(ctx)
	}()

	select {
	case e := <-out:
		s.Equal(uint64(1050), e.Payout)
	case <-time.After(time.Second):
		s.Fail("relay did not deliver")
	}
	cancel()
	s.NoError(<-done)
}

func (s *RelaySuite) TestBreakerOpensWhileSinkIsDownAndClosesOnRecovery() {
	s.Require().NoError(s.publisher.Emit(s.ctx, notify.Event{Type: notify.EventPurchased, SeriesID: 2}))

	flaky := &flakySink{}
	flaky.down.Store(true)
	relay := notify.NewRelay(s.outbox, flaky,
		notify.WithPollInterval(2*time.Millisecond),
		notify.WithRelayBreaker(circuit.New("outbox-sink", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
	)
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	s.Eventually(relay.Degraded, time.Second, 2*time.Millisecond)
	s.Zero(flaky.delivered.Load())

	flaky.down.Store(false)
	s.Eventually(func() bool { return !relay.Degraded() }, time.Second, 2*time.Millisecond)
	s.Eventually(func() bool { return flaky.delivered.Load() == 1 }, time.Second, 2*time.Millisecond)

	cancel()
	s.NoError(<-done)
}
