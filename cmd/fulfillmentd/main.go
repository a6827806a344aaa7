package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/app"
	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/config"
	"github.com/lolgoatvowsly-cell/cookie/internal/dedup"
	"github.com/lolgoatvowsly-cell/cookie/internal/delivery"
	"github.com/lolgoatvowsly-cell/cookie/internal/inventory"
	"github.com/lolgoatvowsly-cell/cookie/internal/ledger"
	"github.com/lolgoatvowsly-cell/cookie/internal/monitor"
	"github.com/lolgoatvowsly-cell/cookie/internal/observability"
	"github.com/lolgoatvowsly-cell/cookie/internal/platform/economy"
	"github.com/lolgoatvowsly-cell/cookie/internal/platform/events"
	"github.com/lolgoatvowsly-cell/cookie/internal/storage/postgres"
	transporthttp "github.com/lolgoatvowsly-cell/cookie/internal/transport/http"
	"github.com/lolgoatvowsly-cell/cookie/migrations"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

type publisher interface {
	app.EventPublisher
	Close() error
}

func main() {
	bootstrap := observability.NewLogger(observability.LoggerConfig{ServiceName: config.ServiceName})
	config.LoadEnvFile(bootstrap)

	cfg, err := config.FromEnv(bootstrap)
	if err != nil {
		bootstrap.Fatal("invalid configuration", zap.Error(err))
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	otelShutdown, err := observability.Setup(startupCtx, observability.OTLP{
		Endpoint:       cfg.OtelEndpoint,
		AuthHeader:     cfg.OtelAuthHeader,
		ServiceName:    config.ServiceName,
		ServiceVersion: config.ServiceVersion,
	})
	if err != nil {
		bootstrap.Warn("telemetry export disabled", zap.Error(err))
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		ServiceName: config.ServiceName,
		Level:       cfg.LogLevel,
		Bridge:      cfg.OtelEndpoint != "",
	})
	defer func() { _ = logger.Sync() }()

	clk := clock.NewSystem()

	economyClient, err := economy.New(economy.Config{
		UsersBaseURL:   cfg.UsersAPIURL,
		EconomyBaseURL: cfg.EconomyAPIURL,
		GroupID:        cfg.GroupID,
		Cookie:         cfg.EconomyCookie,
	}, economy.WithLogger(logger))
	if err != nil {
		logger.Fatal("economy client", zap.Error(err))
	}

	// Sales that happened before startup must never confirm a purchase.
	claims := dedup.NewSet()
	baseline, err := economyClient.BaselineIDs(startupCtx, cfg.BaselineLimit)
	if err != nil {
		logger.Fatal("load transaction baseline", zap.Error(err))
	}
	logger.Info("transaction baseline loaded", zap.Int("known", claims.MarkKnownBaseline(baseline)))

	var pub publisher = events.NewNoop(logger)
	if cfg.KafkaBroker != "" {
		producer, err := events.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaTopic, config.ServiceName, otel.GetTracerProvider())
		if err != nil {
			logger.Fatal("kafka producer", zap.Error(err))
		}
		pub = events.NewKafkaPublisher(producer, logger)
		logger.Info("publishing events to kafka", zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaTopic))
	} else {
		logger.Warn("KAFKA_BROKER not set, events are only logged")
	}

	coordinatorOpts := []app.CoordinatorOption{
		app.WithPublisher(pub),
		app.WithLogger(logger),
		app.WithRegistry(app.NewRegistry(
			app.WithRegistryClock(clk),
			app.WithRetention(cfg.IntentRetention),
			app.WithMaxResolved(cfg.MaxResolved),
		)),
	}

	var auditDB transporthttp.Pinger
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("connect to db", zap.Error(err))
		}
		defer dbPool.Close()

		if err := dbPool.Ping(startupCtx); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if err := migrations.Apply(startupCtx, dbPool, migrations.WithLogger(logger)); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
		auditRepo := postgres.NewAuditRepository(dbPool)
		coordinatorOpts = append(coordinatorOpts, app.WithAuditSink(auditRepo))
		auditDB = auditRepo
	} else {
		logger.Warn("DATABASE_URL not set, audit archive disabled")
	}

	alerts := app.NewStockAlerts(pub, clk, logger, cfg.LowStockThreshold)
	stock := inventory.NewPool(inventory.WithChangeObserver(alerts.Observe))
	alertsCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		alerts.Run(alertsCtx)
	}()
	watcher := monitor.New(economyClient, claims, clk,
		monitor.WithHorizon(cfg.PurchaseHorizon),
		monitor.WithPollInterval(cfg.PollInterval),
		monitor.WithFetchLimit(cfg.FetchLimit),
		monitor.WithLogger(logger),
	)
	orders := ledger.New()

	coordinator := app.NewCoordinator(economyClient, stock, watcher, orders, clk, coordinatorOpts...)
	adminSvc := app.NewAdminService(stock, logger)
	reportSvc := app.NewReportService(orders)

	handler := transporthttp.NewRouter(transporthttp.Services{
		Purchases: coordinator,
		Delivery:  delivery.NewWebhook(delivery.WithLogger(logger)),
		Stock:     adminSvc,
		Reports:   reportSvc,
		DB:        auditDB,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("fulfillment api listening", zap.String("port", cfg.Port))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Purchases waiting for payment are cancelled and their items go back to
	// stock; deliveries already under way finish first.
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("purchase shutdown", zap.Error(err))
	}
	stopAlerts()
	select {
	case <-alertsDone:
	case <-shutdownCtx.Done():
		logger.Warn("stock alerts not flushed before shutdown deadline")
	}
	if err := pub.Close(); err != nil {
		logger.Error("close event publisher", zap.Error(err))
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
