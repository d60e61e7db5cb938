package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bondledger/internal/access"
	bondhandler "bondledger/internal/bond/handler"
	bondmetrics "bondledger/internal/bond/metrics"
	"bondledger/internal/bond/service"
	"bondledger/internal/escrow"
	jwttoken "bondledger/internal/jwt_token"
	"bondledger/internal/notify"
	"bondledger/internal/platform/config"
	"bondledger/internal/platform/httpserver"
	"bondledger/internal/platform/logger"
	"bondledger/internal/platform/metrics"
	"bondledger/pkg/domain"
	"bondledger/pkg/platform/circuit"
	"bondledger/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bondledger stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	policy, err := service.ParsePolicy(cfg.RedemptionPolicy)
	if err != nil {
		return err
	}

	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	authority := access.NewAuthority(infra.ownerStore)
	owner, err := authority.Bootstrap(ctx, domain.CallerID(cfg.Owner), time.Now())
	if err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}

	appMetrics := metrics.New()
	collateral := escrow.NewCollateral(domain.CallerID(cfg.VaultAccount))
	bonds := service.New(
		infra.stores,
		authority,
		collateral,
		infra.tx,
		service.WithLogger(log),
		service.WithMetrics(bondmetrics.New()),
		service.WithNotifier(notify.NewPublisher(infra.outbox)),
		service.WithPolicy(policy),
		service.WithReconciler(infra.reconciler),
	)

	relay := notify.NewRelay(infra.outbox, infra.sink,
		notify.WithRelayLogger(log),
		notify.WithRelayMetrics(appMetrics),
		notify.WithRelayBreaker(circuit.New("outbox-sink")),
		notify.WithPollInterval(cfg.Outbox.PollInterval),
		notify.WithBatchSize(cfg.Outbox.BatchSize),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := infra.Health(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		outbox := "ok"
		if relay.Degraded() {
			outbox = "degraded"
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "outbox": outbox})
	})
	limiter := newRateLimiter(cfg.RateLimit, infra, log, appMetrics)
	bondhandler.New(bonds, collateral, log, appMetrics, jwttoken.NewJWTServiceAdapter(jwtService),
		bondhandler.WithRateLimit(limiter.PerCaller),
	).Register(router)

	srv := httpserver.New(cfg.Addr, router, httpserver.WithWriteTimeout(cfg.TxTimeout+25*time.Second))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting bondledger",
			"addr", srv.Addr(),
			"owner", owner,
			"policy", string(policy),
			"storage", infra.storage,
		)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	return g.Wait()
}
