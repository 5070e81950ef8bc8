package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

// RetryScanner periodically re-enqueues deliveries whose backoff has elapsed.
type RetryScanner struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
}

func NewRetryScanner(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		notifications: notifications,
		deliveries:    deliveries,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first
	// ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.deliveries.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		delivery := due[i]

		priority, correlationID := s.taskContext(ctx, delivery.NotificationID)
		task := queue.TaskMessage{
			Kind:           queue.TaskRedispatch,
			NotificationID: delivery.NotificationID,
			DeliveryID:     delivery.ID,
			CorrelationID:  correlationID,
			Priority:       priority,
		}

		queueName := queue.QueueName(priority)
		if err := s.publisher.Publish(ctx, queueName, task); err != nil {
			s.logger.Error("failed to enqueue delivery retry",
				zap.String("deliveryId", delivery.ID),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		if err := s.deliveries.ReleaseForRetry(ctx, delivery.ID); err != nil {
			s.logger.Error("failed to release delivery after enqueue",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}

// taskContext resolves the parent's priority and correlation ID, defaulting
// to normal priority when the parent cannot be loaded.
func (s *RetryScanner) taskContext(ctx context.Context, notificationID string) (domain.Priority, string) {
	notification, err := s.notifications.GetByID(ctx, notificationID)
	if err != nil {
		s.logger.Warn("failed to load parent for retry task, using normal priority",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
		return domain.PriorityNormal, ""
	}
	return notification.Priority, notification.CorrelationID
}
