package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/schooldesk/schooldesk-backend/api/controllers"
	"github.com/schooldesk/schooldesk-backend/api/routes"
	"github.com/schooldesk/schooldesk-backend/internal/invoices"
	"github.com/schooldesk/schooldesk-backend/internal/payments"
	"github.com/schooldesk/schooldesk-backend/internal/receipts"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/db"
	"github.com/schooldesk/schooldesk-backend/pkg/env"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/metrics"
	"github.com/schooldesk/schooldesk-backend/pkg/migrate"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})
	if err := run(logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(logg *logger.Logger) error {
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	boot := context.Background()

	dbClient, err := db.New(boot, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(boot, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(boot, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(boot, "error closing redis", err)
		}
	}()

	handler, err := buildRouter(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}

	// Cloud Run style deployments inject PORT; config is the fallback.
	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{Addr: addr, Handler: handler}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildRouter(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (http.Handler, error) {
	gormDB := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)
	invoiceRepo := invoices.NewRepository(gormDB)
	receiptRepo := receipts.NewRepository(gormDB)

	invoiceService, err := invoices.NewService(invoiceRepo, dbClient, outboxService)
	if err != nil {
		return nil, fmt.Errorf("building invoice service: %w", err)
	}

	receiptService, err := receipts.NewService(receiptRepo)
	if err != nil {
		return nil, fmt.Errorf("building receipt service: %w", err)
	}

	studentLocker, err := payments.NewRedisStudentLocker(redisClient, cfg.Payments)
	if err != nil {
		return nil, fmt.Errorf("building student locker: %w", err)
	}

	paymentService, err := payments.NewService(
		invoiceRepo,
		receiptRepo,
		dbClient,
		outboxService,
		studentLocker,
		metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
		logg,
	)
	if err != nil {
		return nil, fmt.Errorf("building payment service: %w", err)
	}

	return routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Redis:  redisClient,
		Pingers: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Invoices: invoiceService,
		Receipts: receiptService,
		Payments: paymentService,
	}), nil
}
