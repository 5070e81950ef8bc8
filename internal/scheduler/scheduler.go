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

const (
	defaultScanInterval = 5 * time.Second
	defaultScanLimit    = 100
)

// Scheduler periodically fires due scheduled notifications into the work
// queues at their original priority.
type Scheduler struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
}

func NewScheduler(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
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

	return &Scheduler{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
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
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.notifications.GetDueForSchedule(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}

	for i := range due {
		notification := due[i]
		task := queue.TaskMessage{
			Kind:           queue.TaskDispatch,
			NotificationID: notification.ID,
			CorrelationID:  notification.CorrelationID,
			Priority:       notification.Priority,
		}

		queueName := queue.QueueName(notification.Priority)
		if err := s.publisher.Publish(ctx, queueName, task); err != nil {
			s.logger.Error("failed to enqueue scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		updated, err := s.notifications.UpdateStatusIf(ctx, notification.ID,
			[]domain.NotificationStatus{domain.NotificationScheduled},
			domain.NotificationPending)
		if err != nil {
			s.logger.Error("failed to mark scheduled notification pending",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		if !updated {
			// Likely canceled between the scan and the mark; the dispatcher
			// will skip it.
			s.logger.Info("scheduled notification status changed before fire",
				zap.String("notificationId", notification.ID),
			)
		}
	}

	return nil
}
