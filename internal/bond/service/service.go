// Package service is the bond ledger's redemption engine. It owns every state
// transition: series lifecycle, purchases, redemptions and ownership.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bondledger/internal/bond/metrics"
	"bondledger/internal/escrow"
	"bondledger/internal/investment"
	"bondledger/internal/ledger"
	"bondledger/internal/notify"
	"bondledger/internal/platform/lock"
	"bondledger/internal/reconcile"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
	"bondledger/pkg/requestcontext"
)

type SeriesStore interface {
	NextID(ctx context.Context) (domain.SeriesID, error)
	Create(ctx context.Context, series *models.Series) error
	FindByID(ctx context.Context, id domain.SeriesID) (*models.Series, error)
	Update(ctx context.Context, series *models.Series) error
	List(ctx context.Context) ([]*models.Series, error)
}

type LedgerStore interface {
	Mint(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error
	Burn(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID, units uint64) error
	BalanceOf(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error)
	RedeemedOf(ctx context.Context, seriesID domain.SeriesID, holder domain.CallerID) (uint64, error)
	Supply(ctx context.Context, seriesID domain.SeriesID) (ledger.Supply, error)
	Balances(ctx context.Context, seriesID domain.SeriesID) (map[domain.CallerID]uint64, error)
}

type InvestmentStore interface {
	Record(ctx context.Context, investor domain.CallerID, seriesID domain.SeriesID, amount uint64, now time.Time) (int, error)
	MarkRedeemed(ctx context.Context, investor domain.CallerID, index int, now time.Time) (investment.Lot, error)
	Get(ctx context.Context, investor domain.CallerID, index int) (investment.Lot, error)
	ListFor(ctx context.Context, investor domain.CallerID) ([]investment.Lot, error)
}

type Authority interface {
	Owner(ctx context.Context) (domain.CallerID, error)
	RequireOwner(ctx context.Context, caller domain.CallerID) error
	TransferOwnership(ctx context.Context, caller, newOwner domain.CallerID, now time.Time) (domain.CallerID, error)
}

type Notifier interface {
	Emit(ctx context.Context, event notify.Event) error
}

// Reconciler keeps collateral movements whose ledger change did not commit.
type Reconciler interface {
	Record(ctx context.Context, entry *reconcile.Entry) error
	ListOpen(ctx context.Context) ([]*reconcile.Entry, error)
	Resolve(ctx context.Context, id uuid.UUID, now time.Time) (*reconcile.Entry, error)
}

// Stores groups the persistence the engine mutates.
type Stores struct {
	Series      SeriesStore
	Ledger      LedgerStore
	Investments InvestmentStore
}

// Service orchestrates the ledger. All mutations run inside tx.
type Service struct {
	series      SeriesStore
	ledger      LedgerStore
	investments InvestmentStore
	authority   Authority
	gateway     escrow.Gateway
	tx          LedgerTx
	notifier    Notifier
	reconciler  Reconciler
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	policy      RedemptionPolicy
	clock       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithReconciler(r Reconciler) Option {
	return func(s *Service) {
		s.reconciler = r
	}
}

func WithPolicy(p RedemptionPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithClock overrides the request-scoped time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(stores Stores, authority Authority, gateway escrow.Gateway, tx LedgerTx, opts ...Option) *Service {
	s := &Service{
		series:      stores.Series,
		ledger:      stores.Ledger,
		investments: stores.Investments,
		authority:   authority,
		gateway:     gateway,
		tx:          tx,
		policy:      PolicyPurchasesOnly,
		tracer:      otel.Tracer("bondledger/bond"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const ownerLockKey = lock.OwnerKey

func seriesLockKey(id domain.SeriesID) string { return lock.SeriesKey(id) }

func holderLockKey(c domain.CallerID) string { return lock.HolderKey(c) }

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

func (s *Service) loadSeries(ctx context.Context, id domain.SeriesID) (*models.Series, error) {
	series, err := s.series.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "series %d not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load series")
	}
	return series, nil
}

// storeError keeps coded errors from the ledger aggregates and wraps raw
// storage failures as internal.
func storeError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) emit(ctx context.Context, event notify.Event) error {
	if s.notifier == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now(ctx)
	}
	if err := s.notifier.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to stage notification")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) recordFailure(ctx context.Context, span trace.Span, operation string, err error) {
	code := dErrors.CodeOf(err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
	}
	if s.metrics != nil {
		s.metrics.Failures.WithLabelValues(operation, string(code)).Inc()
	}
	if s.logger != nil && (code == dErrors.CodeInternal || code == dErrors.CodeInvariantViolation) {
		s.logger.ErrorContext(ctx, operation+" failed", "error", err, "request_id", requestcontext.RequestID(ctx))
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
