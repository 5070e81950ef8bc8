package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultRetentionDays = 30

// Manager quarantines exhausted deliveries and drives manual replay of
// dead-letter entries.
type Manager struct {
	entries       repository.DeadLetterRepository
	deliveries    repository.DeliveryRepository
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewManager(
	entries repository.DeadLetterRepository,
	deliveries repository.DeliveryRepository,
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Manager, error) {
	if entries == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		entries:       entries,
		deliveries:    deliveries,
		notifications: notifications,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Quarantine records a terminally failed delivery in the dead-letter store.
func (m *Manager) Quarantine(ctx context.Context, delivery *domain.Delivery, sendErr string) error {
	if delivery == nil {
		return fmt.Errorf("%w: delivery is required", domain.ErrValidation)
	}

	entry := &domain.DeadLetterEntry{
		ID:             uuid.NewString(),
		NotificationID: delivery.NotificationID,
		DeliveryID:     delivery.ID,
		RecipientID:    delivery.RecipientID,
		Channel:        delivery.Channel,
		Error:          sendErr,
		RetryCount:     delivery.AttemptCount + 1,
		CreatedAt:      m.now(),
	}

	if err := m.entries.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to create dead letter entry: %w", err)
	}

	m.logger.Info("delivery quarantined",
		zap.String("deadLetterId", entry.ID),
		zap.String("deliveryId", delivery.ID),
		zap.String("channel", delivery.Channel.String()),
	)

	return nil
}

// List returns quarantined entries filtered and paginated.
func (m *Manager) List(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
	return m.entries.List(ctx, params)
}

// Get returns one entry by ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	return m.entries.GetByID(ctx, id)
}

// Retry replays a quarantined delivery: the delivery gets exactly one more
// attempt and is republished as a redispatch task. The entry stays in the
// store with its retry timestamp set.
func (m *Manager) Retry(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	entry, err := m.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	notification, err := m.notifications.GetByID(ctx, entry.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent notification: %w", err)
	}

	if err := m.deliveries.ResetForRedispatch(ctx, entry.DeliveryID); err != nil {
		return nil, fmt.Errorf("failed to reopen delivery: %w", err)
	}

	task := queue.TaskMessage{
		Kind:           queue.TaskRedispatch,
		NotificationID: entry.NotificationID,
		DeliveryID:     entry.DeliveryID,
		CorrelationID:  notification.CorrelationID,
		Priority:       notification.Priority,
	}
	if err := m.publisher.Publish(ctx, queue.QueueName(notification.Priority), task); err != nil {
		return nil, fmt.Errorf("failed to publish redispatch task: %w", err)
	}

	retriedAt := m.now()
	if err := m.entries.MarkRetried(ctx, id, retriedAt); err != nil {
		return nil, err
	}
	entry.RetriedAt = &retriedAt

	m.logger.Info("dead letter retry published",
		zap.String("deadLetterId", id),
		zap.String("deliveryId", entry.DeliveryID),
		zap.String("notificationId", entry.NotificationID),
	)

	return entry, nil
}

// Cleanup deletes entries older than the retention window.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	cutoff := m.now().AddDate(0, 0, -retentionDays)
	deleted, err := m.entries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old dead letters: %w", err)
	}

	if deleted > 0 {
		m.logger.Info("dead letter cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}

// Stats aggregates entries from the last N days grouped by channel, error or
// day.
func (m *Manager) Stats(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error) {
	if days <= 0 {
		days = 7
	}
	since := m.now().AddDate(0, 0, -days)
	return m.entries.Stats(ctx, since, groupBy)
}
