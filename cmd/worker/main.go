package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/queueme/notification-engine/internal/config"
	"github.com/queueme/notification-engine/internal/deadletter"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/infra/postgresql"
	infraredis "github.com/queueme/notification-engine/internal/infra/redis"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/orchestrator"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/retry"
	"github.com/queueme/notification-engine/internal/scheduler"
	"github.com/queueme/notification-engine/internal/sender"
	"github.com/queueme/notification-engine/internal/status"
	"github.com/queueme/notification-engine/internal/worker"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	recipients := repository.NewGormRecipientRepo(db)
	deadLetters := repository.NewGormDeadLetterRepo(db)

	metrics := observability.NewMetrics()

	tracker, err := status.NewTracker(notifications, deliveries, logger)
	if err != nil {
		logger.Fatal("status tracker initialization failed", zap.Error(err))
	}

	deadLetterManager, err := deadletter.NewManager(deadLetters, deliveries, notifications, publisher, metrics, logger)
	if err != nil {
		logger.Fatal("dead letter manager initialization failed", zap.Error(err))
	}

	retryManager, err := retry.NewManager(deliveries, deadLetterManager, metrics, logger)
	if err != nil {
		logger.Fatal("retry manager initialization failed", zap.Error(err))
	}

	senders, err := buildSenders(cfg)
	if err != nil {
		logger.Fatal("sender initialization failed", zap.Error(err))
	}

	dispatcher, err := orchestrator.NewDispatcher(
		notifications,
		deliveries,
		recipients,
		senders,
		retryManager,
		tracker,
		metrics,
		batchSizes(cfg),
		time.Duration(cfg.SenderTimeoutSecs)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	pool, err := worker.NewPool(consumer, dispatcher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker pool initialization failed", zap.Error(err))
	}

	scanInterval := time.Duration(cfg.ScanIntervalSecs) * time.Second

	scheduleScanner, err := scheduler.NewScheduler(notifications, publisher, scanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	retryScanner, err := scheduler.NewRetryScanner(notifications, deliveries, publisher, scanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup := cron.New()
	_, err = cleanup.AddFunc(cfg.CleanupSchedule, func() {
		deleted, err := deadLetterManager.Cleanup(ctx, cfg.DeadLetterTTLDays)
		if err != nil {
			logger.Error("dead letter cleanup failed", zap.Error(err))
			return
		}
		logger.Info("dead letter cleanup finished", zap.Int64("deleted", deleted))
	})
	if err != nil {
		logger.Fatal("cleanup schedule registration failed", zap.Error(err))
	}
	cleanup.Start()
	defer cleanup.Stop()

	logger.Info("notification-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("scanInterval", scanInterval),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Start(groupCtx) })
	g.Go(func() error { return scheduleScanner.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })

	if err := g.Wait(); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func buildSenders(cfg *config.Config) (map[domain.Channel]sender.ChannelSender, error) {
	endpoints := map[domain.Channel]string{}
	if url := strings.TrimSpace(cfg.PushGatewayURL); url != "" {
		endpoints[domain.ChannelPush] = url
	}
	if url := strings.TrimSpace(cfg.SMSGatewayURL); url != "" {
		endpoints[domain.ChannelSMS] = url
	}
	if url := strings.TrimSpace(cfg.EmailGatewayURL); url != "" {
		endpoints[domain.ChannelEmail] = url
	}

	httpSender, err := sender.NewHTTPSender(endpoints, time.Duration(cfg.SenderTimeoutSecs)*time.Second)
	if err != nil {
		return nil, err
	}

	return map[domain.Channel]sender.ChannelSender{
		domain.ChannelPush:  httpSender,
		domain.ChannelSMS:   httpSender,
		domain.ChannelEmail: httpSender,
		domain.ChannelInApp: sender.NewInAppSender(),
	}, nil
}

func batchSizes(cfg *config.Config) map[domain.Channel]int {
	return map[domain.Channel]int{
		domain.ChannelPush:  cfg.PushBatchSize,
		domain.ChannelEmail: cfg.EmailBatchSize,
		domain.ChannelSMS:   cfg.SMSBatchSize,
		domain.ChannelInApp: cfg.InAppBatchSize,
	}
}
