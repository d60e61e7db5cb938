// Package middleware admits requests against per-caller sliding windows.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"bondledger/internal/platform/metrics"
	"bondledger/internal/ratelimit/models"
	"bondledger/pkg/platform/circuit"
	"bondledger/pkg/platform/httputil"
	"bondledger/pkg/platform/middleware/metadata"
	"bondledger/pkg/requestcontext"
)

// Store is a sliding-window counter.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error)
}

const (
	headerStatus      = "X-RateLimit-Status"
	defaultProbeEvery = 5 * time.Second
)

// Middleware limits each caller per route class. When the primary store
// keeps failing the breaker opens and the in-memory fallback takes over,
// with one primary probe per probe interval.
type Middleware struct {
	primary    Store
	fallback   Store
	breaker    *circuit.Breaker
	limits     map[models.Class]models.Limit
	logger     *slog.Logger
	metrics    *metrics.Metrics
	disabled   bool
	probeEvery time.Duration
	lastProbe  atomic.Int64
	now        func() time.Time
}

type Option func(*Middleware)

func WithFallback(s Store) Option {
	return func(m *Middleware) { m.fallback = s }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) { m.breaker = b }
}

func WithLimit(class models.Class, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithProbeInterval(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.probeEvery = d
		}
	}
}

func New(primary Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		breaker: circuit.New("ratelimit-store"),
		limits: map[models.Class]models.Limit{
			models.ClassRead:  {Requests: 600, Window: time.Minute},
			models.ClassWrite: {Requests: 60, Window: time.Minute},
		},
		logger:     logger,
		probeEvery: defaultProbeEvery,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerCaller keys the window on the authenticated caller, or on the client
// address when no caller is set. It must run after authentication.
func (m *Middleware) PerCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		class := models.ClassFor(r.Method)
		limit := m.limits[class]
		key := bucketKey(ctx, class, r)

		result, degraded, err := m.check(ctx, key, limit)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed; admitting request",
				"error", err,
				"class", class,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}
		addHeaders(w, result)
		if degraded {
			w.Header().Set(headerStatus, "degraded")
		}
		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.RateLimited.WithLabelValues(string(class)).Inc()
			}
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"class", class,
				"caller", requestcontext.Caller(ctx).String(),
				"request_id", requestcontext.RequestID(ctx),
			)
			writeExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	if m.fallback != nil && m.breaker.IsOpen() && !m.probeDue() {
		res, err := m.fallback.AllowN(ctx, key, 1, limit.Requests, limit.Window)
		return res, true, err
	}
	res, err := m.primary.AllowN(ctx, key, 1, limit.Requests, limit.Window)
	if err == nil {
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
		}
		return res, false, nil
	}
	if _, change := m.breaker.RecordFailure(); change.Opened {
		m.logger.WarnContext(ctx, "rate limit store degraded; using in-memory fallback",
			"breaker", m.breaker.Name(),
			"error", err,
		)
	}
	if m.fallback == nil {
		return nil, false, err
	}
	res, ferr := m.fallback.AllowN(ctx, key, 1, limit.Requests, limit.Window)
	return res, true, ferr
}

func (m *Middleware) probeDue() bool {
	now := m.now().UnixNano()
	last := m.lastProbe.Load()
	if now-last < int64(m.probeEvery) {
		return false
	}
	return m.lastProbe.CompareAndSwap(last, now)
}

func bucketKey(ctx context.Context, class models.Class, r *http.Request) string {
	if caller := requestcontext.Caller(ctx); !caller.IsNull() {
		return models.NewCallerKey(class, caller.String())
	}
	if client, ok := metadata.ClientFrom(ctx); ok {
		return models.NewIPKey(class, client.IP)
	}
	return models.NewIPKey(class, metadata.ClientIPFromRequest(r))
}

func addHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "too many requests, retry later",
		RetryAfter:       result.RetryAfter,
	})
}
