package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/schooldesk/schooldesk-backend/internal/consumers/fees"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/idempotency"
	"github.com/schooldesk/schooldesk-backend/pkg/pubsub"
	"github.com/schooldesk/schooldesk-backend/pkg/redis"
)

const serviceName = "fees-consumer"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := run(logg); err != nil {
		logg.Error(context.Background(), "fees consumer stopped unexpectedly", err)
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
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	boot := context.Background()

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(boot, "error closing redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(boot, "error closing pubsub client", err)
		}
	}()

	subscription := pubsubClient.FeesSubscription()
	if subscription == nil {
		return errors.New("fee events subscription not configured")
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}

	notifier, err := fees.NewLogNotifier(logg)
	if err != nil {
		return err
	}

	consumer, err := fees.NewConsumer(fees.NewDecoders(), manager, notifier, logg)
	if err != nil {
		return err
	}

	service, err := fees.NewService(subscription, consumer, logg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
	})

	logg.Info(ctx, "starting fees consumer")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "fees consumer shutting down gracefully")
	return nil
}
