package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/queueme/notification-engine/internal/config"
	"github.com/queueme/notification-engine/internal/deadletter"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/handler"
	"github.com/queueme/notification-engine/internal/infra/postgresql"
	"github.com/queueme/notification-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/queueme/notification-engine/internal/infra/redis"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/orchestrator"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/ratelimit"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/selector"
	"github.com/queueme/notification-engine/internal/status"
	"github.com/queueme/notification-engine/internal/timing"
	"github.com/queueme/notification-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	recipients := repository.NewGormRecipientRepo(db)
	deadLetters := repository.NewGormDeadLetterRepo(db)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, rateLimits(cfg), time.Duration(cfg.RateLimitWindowSecs)*time.Second)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	engagement, err := selector.NewCachedEngagement(recipients, rdb, logger)
	if err != nil {
		logger.Fatal("engagement source initialization failed", zap.Error(err))
	}

	channelSelector, err := selector.New(engagement, logger)
	if err != nil {
		logger.Fatal("channel selector initialization failed", zap.Error(err))
	}

	optimizer, err := timing.New(recipients, logger)
	if err != nil {
		logger.Fatal("timing optimizer initialization failed", zap.Error(err))
	}

	tracker, err := status.NewTracker(notifications, deliveries, logger)
	if err != nil {
		logger.Fatal("status tracker initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	deadLetterManager, err := deadletter.NewManager(deadLetters, deliveries, notifications, publisher, metrics, logger)
	if err != nil {
		logger.Fatal("dead letter manager initialization failed", zap.Error(err))
	}

	engine, err := orchestrator.New(
		notifications,
		deliveries,
		recipients,
		limiter,
		channelSelector,
		optimizer,
		tracker,
		publisher,
		metrics,
		cfg.MaxAttempts,
		cfg.BulkMaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterNotificationRoutes(app, engine); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterDeadLetterRoutes(app, deadLetterManager); err != nil {
		logger.Fatal("dead letter routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("notification-engine api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("api server stopped", zap.Error(err))
	}
}

func rateLimits(cfg *config.Config) map[domain.Channel]ratelimit.Limits {
	return map[domain.Channel]ratelimit.Limits{
		domain.ChannelSMS: {
			PerRecipient: int64(cfg.SMSLimitPerUser),
			Global:       int64(cfg.SMSLimitGlobal),
		},
		domain.ChannelEmail: {
			PerRecipient: int64(cfg.EmailLimitPerUser),
			Global:       int64(cfg.EmailLimitGlobal),
		},
		domain.ChannelPush: {
			PerRecipient: int64(cfg.PushLimitPerUser),
			Global:       int64(cfg.PushLimitGlobal),
		},
	}
}
