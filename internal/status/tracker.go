package status

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const shardCount = 64

// keyedMutex serializes work per notification ID across a fixed set of
// shards, so concurrent batch completions for the same notification cannot
// interleave their read-derive-write rollups.
type keyedMutex struct {
	shards [shardCount]sync.Mutex
}

func (m *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%shardCount]
	shard.Lock()
	return shard.Unlock
}

// Tracker rolls per-channel delivery states up into the aggregate
// notification status.
type Tracker struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	logger        *zap.Logger
	mu            keyedMutex
}

func NewTracker(notifications repository.NotificationRepository, deliveries repository.DeliveryRepository, logger *zap.Logger) (*Tracker, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		notifications: notifications,
		deliveries:    deliveries,
		logger:        logger,
	}, nil
}

// Refresh recomputes the aggregate status from the notification's delivery
// states and persists it. Rollups for the same notification are serialized.
// A notification with no deliveries yet keeps its current status.
func (t *Tracker) Refresh(ctx context.Context, notificationID string) (domain.NotificationStatus, error) {
	unlock := t.mu.lock(notificationID)
	defer unlock()

	states, err := t.deliveries.StatesByNotification(ctx, notificationID)
	if err != nil {
		return "", fmt.Errorf("failed to load delivery states: %w", err)
	}

	if len(states) == 0 {
		notification, err := t.notifications.GetByID(ctx, notificationID)
		if err != nil {
			return "", err
		}
		return notification.Status, nil
	}

	derived := domain.DeriveAggregateStatus(states)
	if err := t.notifications.UpdateStatus(ctx, notificationID, derived); err != nil {
		return "", fmt.Errorf("failed to persist aggregate status: %w", err)
	}

	t.logger.Debug("aggregate status refreshed",
		zap.String("notificationId", notificationID),
		zap.String("status", derived.String()),
		zap.Int("deliveries", len(states)),
	)

	return derived, nil
}

// WithLock runs fn while holding the notification's rollup lock. Used by
// callers that must read and mutate deliveries atomically with respect to
// concurrent rollups.
func (t *Tracker) WithLock(notificationID string, fn func() error) error {
	unlock := t.mu.lock(notificationID)
	defer unlock()
	return fn()
}
