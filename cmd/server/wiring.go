package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"bookflow/cmd/server/config"
	"bookflow/internal/callback"
	ledgerdb "bookflow/internal/db/ledger"
	"bookflow/internal/ledger"
	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
	"bookflow/internal/secrets"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

var openLedgerDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// cleanups runs registered closers in reverse order.
type cleanups []func()

func (c *cleanups) add(fn func()) { *c = append(*c, fn) }

func (c cleanups) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// buildRedis returns nil when REDIS_URL is unset.
func buildRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// buildLedgerStores opens the Postgres stores, or in-memory ones when no
// DATABASE_URL is configured.
func buildLedgerStores(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (saga.AttemptStore, saga.AuditStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.WarnContext(ctx, "DATABASE_URL not set; ledger is in memory")
		return ledger.NewMemoryAttemptStore(), ledger.NewMemoryAuditStore(), func() {}, nil
	}
	db, err := openLedgerDB("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("close ledger db", "error", err)
		}
	}
	attempts, err := ledgerdb.NewAttemptStoreWithSchema(ctx, db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	audits, err := ledgerdb.NewAuditStoreWithSchema(ctx, db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	return attempts, audits, closeDB, nil
}

func buildBreakerStore(client *redis.Client, prefix string) resilience.BreakerStore {
	if client == nil {
		return resilience.NewMemoryBreakerStore(nil)
	}
	return resilience.NewRedisBreakerStore(client, prefix)
}

func buildCallbackStore(client *redis.Client, prefix string) callback.Store {
	if client == nil {
		return callback.NewMemoryStore(nil)
	}
	return callback.NewRedisStore(client, prefix)
}

type gateways struct {
	livePayments provider.PaymentGateway
	bookings     provider.BookingGateway
}

// buildGateways returns HTTP gateways for configured providers. Without a
// payment URL the live-payments flag has no effect; without a booking URL
// reservations use the stub.
func buildGateways(cfg config.ProviderConfig, store secrets.Store) (gateways, error) {
	client := &http.Client{Timeout: cfg.RequestTimeout}
	var g gateways
	if cfg.PaymentURL != "" {
		gw, err := provider.NewHTTPGateway(cfg.PaymentURL, client, store, cfg.PaymentKeyName)
		if err != nil {
			return g, fmt.Errorf("payment provider: %w", err)
		}
		g.livePayments = gw
	}
	if cfg.BookingURL != "" {
		gw, err := provider.NewHTTPGateway(cfg.BookingURL, client, store, cfg.BookingKeyName)
		if err != nil {
			return g, fmt.Errorf("booking provider: %w", err)
		}
		g.bookings = gw
	} else {
		g.bookings = &provider.StubBooking{}
	}
	return g, nil
}

func buildResumer(cfg config.ProviderConfig, caller *resilience.Caller) callback.Resumer {
	if cfg.OrchestratorURL == "" {
		return &callback.MemoryResumer{}
	}
	return callback.NewHTTPResumer(cfg.OrchestratorURL, &http.Client{Timeout: cfg.RequestTimeout}, caller.Orchestrator())
}
