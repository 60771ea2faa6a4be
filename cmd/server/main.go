package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"bookflow/cmd/server/config"
	grpcadapter "bookflow/internal/adapters/grpc"
	httpadapter "bookflow/internal/adapters/http"
	"bookflow/internal/booking"
	"bookflow/internal/callback"
	"bookflow/internal/flags"
	"bookflow/internal/ledger"
	"bookflow/internal/logging"
	"bookflow/internal/observability"
	"bookflow/internal/realtime"
	"bookflow/internal/resilience"
	"bookflow/internal/secrets"

	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	serverCfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, logging.ParseLevel(serverCfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(ctx, serverCfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverCfg config.ServerConfig, logger *slog.Logger) error {
	var closers cleanups
	defer closers.run()

	redisCfg, err := config.LoadRedis()
	if err != nil {
		return err
	}
	storageCfg, err := config.LoadStorage()
	if err != nil {
		return err
	}
	webhookCfg, err := config.LoadWebhook()
	if err != nil {
		return err
	}
	secretsCfg, err := config.LoadSecrets()
	if err != nil {
		return err
	}
	providerCfg, err := config.LoadProviders()
	if err != nil {
		return err
	}
	resilienceCfg, err := config.LoadResilience()
	if err != nil {
		return err
	}
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}

	redisClient, err := buildRedis(ctx, redisCfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers.add(func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("close redis", "error", err)
			}
		})
	} else {
		logger.WarnContext(ctx, "REDIS_URL not set; breaker and callback state are in memory")
	}

	attempts, audits, closeLedger, err := buildLedgerStores(ctx, storageCfg, logger)
	if err != nil {
		return err
	}
	closers.add(closeLedger)

	secretStore, err := secrets.New(secretsCfg.Backend, secretsCfg.Dir, secretsCfg.CacheTTL)
	if err != nil {
		return err
	}
	profiles, err := resilience.LoadProfiles(resilienceCfg.ProfilesFile)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(logger)
	caller := resilience.NewCaller(
		buildBreakerStore(redisClient, resilienceCfg.BreakerKeyPrefix),
		profiles,
		resilience.WithLogger(logger),
		resilience.WithObserver(metrics),
	)
	gws, err := buildGateways(providerCfg, secretStore)
	if err != nil {
		return err
	}

	steps := booking.NewSteps(booking.Deps{
		Ledger:       ledger.New(attempts, audits, ledger.WithLogger(logger), ledger.WithPublisher(hub)),
		Caller:       caller,
		LivePayments: gws.livePayments,
		Bookings:     gws.bookings,
		Flags:        flags.NewEnvSource(),
		Continuations: callback.NewContinuations(
			buildCallbackStore(redisClient, redisCfg.CallbackPrefix),
			buildResumer(providerCfg, caller),
			webhookCfg.CallbackTTL,
		),
		Logger: logger,
	})
	dispatcher := booking.NewDispatcher(steps, metrics)

	var shuttingDown atomic.Bool
	httpServer := &http.Server{
		Addr: serverCfg.HTTPAddr,
		Handler: httpadapter.NewRouter(httpadapter.Config{
			Dispatcher: dispatcher,
			Webhook: httpadapter.NewWebhookHandler(steps, secretStore, httpadapter.WebhookConfig{
				SecretName:   webhookCfg.SecretName,
				MaxBodyBytes: webhookCfg.MaxBodyBytes,
				Skew:         webhookCfg.TimestampSkew,
			}, metrics, logger),
			Ledger:  steps.Ledger(),
			Metrics: metrics,
			Hub:     hub,
			Logger:  logger,
			Ready:   func() bool { return !shuttingDown.Load() },
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	limiter := resilience.NewRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst).OnWait(metrics.AddRateLimitWait)
	grpcServer := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, logger)),
	)
	grpcadapter.Register(grpcServer, grpcadapter.NewStepServer(dispatcher))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcadapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if serverCfg.AppEnv != "production" {
		reflection.Register(grpcServer)
		logger.InfoContext(ctx, "gRPC reflection enabled", "app_env", serverCfg.AppEnv)
	}

	lis, err := net.Listen("tcp", serverCfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.InfoContext(gctx, "grpc server listening", "addr", serverCfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.InfoContext(gctx, "http server listening", "addr", serverCfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shuttingDown.Store(true)
		inflight := metrics.InFlight()
		metrics.MarkShutdown(inflight)
		healthServer.SetServingStatus(grpcadapter.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		logger.Info("server stopped", "inflight_at_shutdown", inflight)
		return err
	})
	return g.Wait()
}
