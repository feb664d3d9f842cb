package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/urbanserve/booking-payments/internal/adapters/notifier"
	"github.com/urbanserve/booking-payments/internal/adapters/postgres"
	"github.com/urbanserve/booking-payments/internal/adapters/provider"
	"github.com/urbanserve/booking-payments/internal/adapters/secrets"
	"github.com/urbanserve/booking-payments/internal/config"
	cronHandler "github.com/urbanserve/booking-payments/internal/handlers/cron"
	paymentHandler "github.com/urbanserve/booking-payments/internal/handlers/payment"
	webhookHandler "github.com/urbanserve/booking-payments/internal/handlers/webhook"
	orderService "github.com/urbanserve/booking-payments/internal/services/order"
	"github.com/urbanserve/booking-payments/internal/services/saga"
	webhookService "github.com/urbanserve/booking-payments/internal/services/webhook"
	"github.com/urbanserve/booking-payments/pkg/observability"
	"github.com/urbanserve/booking-payments/pkg/resilience"
)

func main() {
	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting booking payments service",
		zap.String("version", "0.1.0"),
	)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if cfg.Secrets.Enabled {
		if err := loadProviderSecrets(cfg, logger); err != nil {
			logger.Fatal("Failed to load provider secrets", zap.Error(err))
		}
	}

	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	// Shared resilience state: one breaker and one quota manager per
	// provider, constructed here and injected everywhere.
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:   uint32(cfg.Resilience.BreakerMaxFailures),
		FailureWindow: cfg.Resilience.BreakerFailureWindow,
		CoolDown:      cfg.Resilience.BreakerCoolDown,
	})
	quota := resilience.NewQuotaManager(resilience.QuotaManagerConfig{
		RequestsPerSecond: cfg.Resilience.QuotaRequestsPerSec,
	})
	tracer := observability.NewOperationTracer(logger)

	// Provider gateway wrapped in the full resilience stack.
	client := provider.NewClient(&provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	}, logger)
	gateway := provider.NewResilientGateway(client, provider.ResilientGatewayConfig{
		Tracer:      tracer,
		Breaker:     breaker,
		Quota:       quota,
		MaxAttempts: cfg.Resilience.MaxAttempts,
	}, logger)

	// Persistence.
	db := postgres.NewDBExecutor(dbPool)
	orders := postgres.NewOrderRepository()
	sagas := postgres.NewSagaRepository()
	events := postgres.NewWebhookEventRepository()

	// Services.
	customerNotifier := notifier.NewLoggingNotifier(logger)
	checkoutSaga := saga.NewPaymentAuthorizationSaga(db, orders, sagas, gateway, logger)
	lifecycle := orderService.NewService(db, orders, gateway, customerNotifier, orderService.ServiceConfig{
		VarianceThreshold: decimal.NewFromInt(int64(cfg.Payments.VarianceThresholdPct)).Div(decimal.NewFromInt(100)),
		GracePeriod:       cfg.Payments.GracePeriod,
		BatchSize:         cfg.Payments.BatchSize,
	}, logger)
	ingester := webhookService.NewIngester(db, orders, events, customerNotifier, webhookService.IngesterConfig{
		GracePeriod: cfg.Payments.GracePeriod,
	}, logger)

	// Handlers.
	checkout := paymentHandler.NewCheckoutHandler(checkoutSaga, logger)
	orderOps := paymentHandler.NewOrderHandler(lifecycle, logger)
	webhooks := webhookHandler.NewHandler(ingester, cfg.Provider.WebhookSecret, logger)
	cronOps := cronHandler.NewOperationsHandler(lifecycle, breaker, quota, logger, cfg.Payments.CronSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bookings/checkout", checkout.Checkout)
	mux.HandleFunc("POST /api/v1/orders/{id}/confirm-fulfillment", orderOps.ConfirmFulfillment)
	mux.HandleFunc("POST /api/v1/orders/{id}/approve-charge", orderOps.ApproveCharge)
	mux.HandleFunc("POST /api/v1/orders/{id}/resolve-payment-failure", orderOps.ResolvePaymentFailure)
	mux.HandleFunc("POST /webhooks/provider", webhooks.Handle)
	mux.HandleFunc("POST /cron/sweep-grace-periods", cronOps.SweepGracePeriods)
	mux.HandleFunc("POST /cron/retry-captures", cronOps.RetryCaptures)
	mux.HandleFunc("GET /cron/stats", cronOps.Stats)
	mux.HandleFunc("POST /cron/reset-breaker", cronOps.ResetBreaker)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics and health on their own port.
	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

// loadProviderSecrets overrides provider credentials from Secrets Manager.
func loadProviderSecrets(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager, err := secrets.NewManager(ctx, cfg.Secrets.Region, logger)
	if err != nil {
		return err
	}
	fetched, err := manager.FetchProviderSecrets(ctx, cfg.Secrets.SecretID)
	if err != nil {
		return err
	}
	cfg.Provider.APIKey = fetched.APIKey
	cfg.Provider.WebhookSecret = fetched.WebhookSecret
	return nil
}

func initLogger() *zap.Logger {
	env := os.Getenv("ENVIRONMENT")

	if env == "production" {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		logger, _ := zapCfg.Build()
		return logger
	}

	logger, _ := zap.NewDevelopment()
	return logger
}

// initDatabase initializes the PostgreSQL connection pool
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
