package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bondledger/internal/platform/metrics"
	"bondledger/pkg/platform/circuit"
)

// OutboxReader is the relay's view of the outbox.
type OutboxReader interface {
	Pending(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Sink delivers committed entries to subscribers, in order.
type Sink interface {
	Publish(ctx context.Context, entries []Entry) error
}

var now = time.Now

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Relay polls the outbox and forwards pending entries to a Sink. Delivery is
// at-least-once: entries are marked published only after the sink accepts them.
type Relay struct {
	outbox   OutboxReader
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	breaker  *circuit.Breaker
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// WithRelayBreaker tracks consecutive relay failures. While the breaker is
// open the relay only probes the sink once per tick.
func WithRelayBreaker(b *circuit.Breaker) RelayOption {
	return func(r *Relay) { r.breaker = b }
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func NewRelay(outbox OutboxReader, sink Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:   outbox,
		sink:     sink,
		logger:   slog.Default(),
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
		breaker:  circuit.New("outbox-sink"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce forwards one batch and returns how many entries were published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.Pending(ctx, r.batch)
	if err != nil || len(entries) == 0 {
		return 0, err
	}
	if err := r.sink.Publish(ctx, entries); err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := r.outbox.MarkPublished(ctx, ids, now().UTC()); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Degraded reports whether the sink has failed often enough to open the
// relay's breaker.
func (r *Relay) Degraded() bool {
	return r.breaker.IsOpen()
}

// Run relays until ctx is cancelled. Errors are logged and retried on the
// next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.recordFailure(ctx, err)
			}
			return
		}
		r.recordSuccess(ctx)
		if r.metrics != nil {
			r.metrics.OutboxRelayed.Add(float64(n))
		}
		if n < r.batch || r.breaker.IsOpen() {
			return
		}
	}
}

func (r *Relay) recordFailure(ctx context.Context, err error) {
	r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
	if r.metrics != nil {
		r.metrics.OutboxErrors.Inc()
	}
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "outbox sink degraded", "breaker", r.breaker.Name())
	}
}

func (r *Relay) recordSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "outbox sink recovered", "breaker", r.breaker.Name())
	}
}
