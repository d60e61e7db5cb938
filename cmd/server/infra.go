package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"bondledger/internal/access"
	accessstore "bondledger/internal/access/store"
	"bondledger/internal/bond/service"
	investmentstore "bondledger/internal/investment/store"
	ledgerstore "bondledger/internal/ledger/store"
	"bondledger/internal/notify"
	"bondledger/internal/notify/sink"
	notifystore "bondledger/internal/notify/store"
	"bondledger/internal/platform/config"
	"bondledger/internal/platform/kafka"
	"bondledger/internal/platform/lock"
	"bondledger/internal/platform/metrics"
	"bondledger/internal/platform/postgres"
	"bondledger/internal/platform/redis"
	ratelimit "bondledger/internal/ratelimit/middleware"
	"bondledger/internal/ratelimit/models"
	"bondledger/internal/ratelimit/store/bucket"
	reconcilestore "bondledger/internal/reconcile/store"
	seriesstore "bondledger/internal/series/store"
)

type outbox interface {
	notify.Store
	notify.OutboxReader
}

// infra is everything the service needs that depends on configuration:
// storage, locking and the notification sink.
type infra struct {
	storage    string
	stores     service.Stores
	ownerStore access.OwnerStore
	outbox     outbox
	reconciler service.Reconciler
	tx         service.LedgerTx
	sink       notify.Sink

	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	ok := false
	defer func() {
		if !ok {
			in.Close()
		}
	}()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.redis = rdb
	var locker lock.Locker = lock.NewMemory()
	if rdb != nil {
		locker = lock.NewRedis(rdb.Client, lock.WithTTL(cfg.Redis.LockTTL))
		log.InfoContext(ctx, "using redis ledger locks")
	}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, postgres.Config{
			URL:          cfg.Database.URL,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}, log)
		if err != nil {
			return nil, err
		}
		in.db = db
		in.storage = "postgres"
		in.stores = service.Stores{
			Series:      seriesstore.NewPostgres(db),
			Ledger:      ledgerstore.NewPostgres(db),
			Investments: investmentstore.NewPostgres(db),
		}
		in.ownerStore = accessstore.NewPostgres(db)
		in.outbox = notifystore.NewPostgres(db)
		in.reconciler = reconcilestore.NewPostgres(db)
		var pgLocker lock.Locker
		if rdb != nil {
			pgLocker = locker
		}
		in.tx = newLedgerPostgresTx(db, pgLocker, cfg.TxTimeout)
	} else {
		in.storage = "memory"
		in.stores = service.Stores{
			Series:      seriesstore.NewInMemory(),
			Ledger:      ledgerstore.NewInMemory(),
			Investments: investmentstore.NewInMemory(),
		}
		in.ownerStore = accessstore.NewInMemory()
		in.outbox = notifystore.NewInMemory()
		in.reconciler = reconcilestore.NewInMemory()
		in.tx = service.NewLockingTx(locker, cfg.TxTimeout)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			ClientID:          cfg.Kafka.ClientID,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}
		client, err := kafka.NewClient(ctx, kcfg)
		if err != nil {
			return nil, err
		}
		in.kafka = client
		if err := kafka.EnsureTopic(ctx, client, kcfg); err != nil {
			return nil, err
		}
		in.sink = sink.NewKafka(client, cfg.Kafka.Topic)
	} else {
		in.sink = sink.NewLog(log)
	}

	ok = true
	return in, nil
}

// newRateLimiter shares windows through Redis when it is configured and
// falls back to process memory while Redis is unreachable.
func newRateLimiter(cfg config.RateLimitConfig, in *infra, log *slog.Logger, m *metrics.Metrics) *ratelimit.Middleware {
	opts := []ratelimit.Option{
		ratelimit.WithDisabled(cfg.Disabled),
		ratelimit.WithMetrics(m),
		ratelimit.WithLimit(models.ClassRead, models.Limit{Requests: cfg.ReadRequests, Window: cfg.Window}),
		ratelimit.WithLimit(models.ClassWrite, models.Limit{Requests: cfg.WriteRequests, Window: cfg.Window}),
	}
	if in.redis == nil {
		return ratelimit.New(bucket.NewInMemory(), log, opts...)
	}
	opts = append(opts, ratelimit.WithFallback(bucket.NewInMemory()))
	return ratelimit.New(bucket.NewRedis(in.redis.Client), log, opts...)
}

func (in *infra) Health(ctx context.Context) error {
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}
