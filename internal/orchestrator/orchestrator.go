package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/ratelimit"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/selector"
	"github.com/queueme/notification-engine/internal/status"
	"github.com/queueme/notification-engine/internal/timing"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts     = 5
	defaultBulkMaxAttempts = 3

	idempotencyWindow = 24 * time.Hour
)

// SubmitRequest carries one notification submission.
type SubmitRequest struct {
	RecipientID    string
	Type           domain.NotificationType
	Title          string
	Body           string
	Data           map[string]any
	Priority       domain.Priority
	Channels       []domain.Channel
	IdempotencyKey *string
	CorrelationID  string
	ScheduledAt    *time.Time
}

// StatusView is the aggregate plus per-channel state of one notification.
type StatusView struct {
	Notification domain.Notification
	Deliveries   []domain.Delivery
}

// Orchestrator owns the submit/cancel lifecycle: it resolves channels,
// applies rate limits, decides send time and fans the work out per channel.
type Orchestrator struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	recipients    repository.RecipientRepository
	limiter       ratelimit.Limiter
	selector      *selector.Selector
	optimizer     *timing.Optimizer
	tracker       *status.Tracker
	publisher     queue.Publisher
	metrics       *observability.Metrics
	logger        *zap.Logger
	maxAttempts   int
	bulkAttempts  int
	now           func() time.Time
}

func New(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	recipients repository.RecipientRepository,
	limiter ratelimit.Limiter,
	channelSelector *selector.Selector,
	optimizer *timing.Optimizer,
	tracker *status.Tracker,
	publisher queue.Publisher,
	metrics *observability.Metrics,
	maxAttempts int,
	bulkAttempts int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if notifications == nil || deliveries == nil || recipients == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if channelSelector == nil {
		return nil, fmt.Errorf("channel selector is required")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("timing optimizer is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("status tracker is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if bulkAttempts <= 0 {
		bulkAttempts = defaultBulkMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		notifications: notifications,
		deliveries:    deliveries,
		recipients:    recipients,
		limiter:       limiter,
		selector:      channelSelector,
		optimizer:     optimizer,
		tracker:       tracker,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		maxAttempts:   maxAttempts,
		bulkAttempts:  bulkAttempts,
		now:           time.Now,
	}, nil
}

// Submit accepts a notification, resolves its channels and either enqueues it
// for immediate dispatch or schedules it for a better send time. A repeated
// idempotency key within 24 hours returns the original notification.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.Notification, error) {
	notification, err := o.buildNotification(req)
	if err != nil {
		return nil, err
	}

	if notification.IdempotencyKey != nil {
		existing, err := o.notifications.GetByIdempotencyKey(ctx, *notification.IdempotencyKey, o.now().Add(-idempotencyWindow))
		if err == nil {
			o.logger.Info("idempotent submit short-circuited",
				zap.String("existingId", existing.ID),
				zap.String("idempotencyKey", *notification.IdempotencyKey),
			)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	recipient, err := o.recipients.GetByID(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: recipient %q", domain.ErrNotFound, notification.RecipientID)
		}
		return nil, fmt.Errorf("recipient lookup failed: %w", err)
	}

	channels, err := o.resolveChannels(ctx, recipient, notification)
	if err != nil {
		return nil, err
	}

	scheduledAt, err := o.resolveSendTime(ctx, recipient, notification)
	if err != nil {
		return nil, err
	}

	if scheduledAt != nil {
		notification.Status = domain.NotificationScheduled
		notification.ScheduledAt = scheduledAt
	}

	if err := o.notifications.Create(ctx, notification); err != nil {
		existing, resolved, resolveErr := o.resolveIdempotencyConflict(ctx, err, notification.IdempotencyKey)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	deliveries := make([]*domain.Delivery, 0, len(channels))
	for _, channel := range channels {
		deliveries = append(deliveries, &domain.Delivery{
			ID:             uuid.NewString(),
			NotificationID: notification.ID,
			RecipientID:    notification.RecipientID,
			Channel:        channel,
			State:          domain.DeliveryPending,
			MaxAttempts:    o.attemptBudget(notification.Priority),
			ScheduledAt:    scheduledAt,
		})
	}
	if err := o.deliveries.CreateBatch(ctx, deliveries); err != nil {
		return nil, fmt.Errorf("failed to create deliveries: %w", err)
	}

	if scheduledAt != nil {
		if o.metrics != nil {
			o.metrics.IncScheduledDeferred(notification.Type.String())
		}
		o.logger.Info("notification scheduled",
			zap.String("notificationId", notification.ID),
			zap.Time("scheduledAt", *scheduledAt),
			zap.Int("channels", len(channels)),
		)
		return notification, nil
	}

	if err := o.publishDispatch(ctx, notification); err != nil {
		return nil, err
	}

	o.logger.Info("notification accepted",
		zap.String("notificationId", notification.ID),
		zap.String("type", notification.Type.String()),
		zap.String("priority", notification.Priority.String()),
		zap.Int("channels", len(channels)),
	)

	return notification, nil
}

// Cancel marks all still-pending deliveries canceled. The notification itself
// becomes CANCELED only when nothing is mid-flight; otherwise the rollup
// settles it once in-flight batches finish.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := o.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if notification.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: notification is already %s", domain.ErrConflict, notification.Status)
	}

	err = o.tracker.WithLock(id, func() error {
		canceled, err := o.deliveries.CancelPending(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to cancel pending deliveries: %w", err)
		}

		inFlight, err := o.deliveries.CountProcessing(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count in-flight deliveries: %w", err)
		}
		if inFlight > 0 {
			o.logger.Info("cancellation deferred, deliveries in flight",
				zap.String("notificationId", id),
				zap.Int64("inFlight", inFlight),
			)
			return nil
		}

		updated, err := o.notifications.UpdateStatusIf(ctx, id,
			[]domain.NotificationStatus{domain.NotificationPending, domain.NotificationScheduled, domain.NotificationProcessing},
			domain.NotificationCanceled)
		if err != nil {
			return fmt.Errorf("failed to update notification status: %w", err)
		}
		if updated {
			notification.Status = domain.NotificationCanceled
		}

		o.logger.Info("notification canceled",
			zap.String("notificationId", id),
			zap.Int64("canceledDeliveries", canceled),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return notification, nil
}

// Status returns the aggregate notification with its per-channel deliveries.
func (o *Orchestrator) Status(ctx context.Context, id string) (*StatusView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := o.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	deliveries, err := o.deliveries.GetByNotificationID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load deliveries: %w", err)
	}

	return &StatusView{
		Notification: *notification,
		Deliveries:   deliveries,
	}, nil
}

// MarkRead records the in-app read receipt and refreshes the aggregate.
func (o *Orchestrator) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	seen, err := o.deliveries.MarkSeen(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if !seen {
		return fmt.Errorf("%w: no delivered in-app delivery to mark read", domain.ErrConflict)
	}

	if _, err := o.tracker.Refresh(ctx, id); err != nil {
		return err
	}
	return nil
}

// List returns notifications matching the filter.
func (o *Orchestrator) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return o.notifications.List(ctx, params)
}

func (o *Orchestrator) buildNotification(req SubmitRequest) (*domain.Notification, error) {
	notification := &domain.Notification{
		ID:                uuid.NewString(),
		CorrelationID:     strings.TrimSpace(req.CorrelationID),
		IdempotencyKey:    normalizeOptionalString(req.IdempotencyKey),
		RecipientID:       strings.TrimSpace(req.RecipientID),
		Type:              req.Type,
		Title:             strings.TrimSpace(req.Title),
		Body:              strings.TrimSpace(req.Body),
		Data:              req.Data,
		Priority:          req.Priority,
		RequestedChannels: req.Channels,
		Status:            domain.NotificationPending,
	}
	if notification.CorrelationID == "" {
		notification.CorrelationID = uuid.NewString()
	}
	if notification.Priority == "" {
		notification.Priority = defaultPriorityFor(req.Type)
	}
	if req.ScheduledAt != nil {
		scheduled := req.ScheduledAt.UTC()
		notification.ScheduledAt = &scheduled
	}

	if err := notification.Validate(); err != nil {
		return nil, err
	}
	return notification, nil
}

// resolveChannels intersects the request's channel override (or the
// selector's choice) with recipient capabilities, then filters by rate limit.
func (o *Orchestrator) resolveChannels(ctx context.Context, recipient *domain.Recipient, notification *domain.Notification) ([]domain.Channel, error) {
	var candidates []domain.Channel
	if len(notification.RequestedChannels) > 0 {
		for _, channel := range notification.RequestedChannels {
			if recipient.HasChannel(channel) {
				candidates = append(candidates, channel)
			}
		}
	} else {
		selected, err := o.selector.Select(ctx, recipient, notification.Type)
		if err != nil {
			return nil, fmt.Errorf("channel selection failed: %w", err)
		}
		candidates = selected
	}

	channels := make([]domain.Channel, 0, len(candidates))
	for _, channel := range candidates {
		allowed, err := o.limiter.Allow(ctx, recipient.ID, channel)
		if err != nil {
			if ratelimit.FailOpen(channel) {
				o.logger.Warn("rate limiter unavailable, allowing channel",
					zap.String("channel", channel.String()),
					zap.Error(err),
				)
				allowed = true
			} else {
				o.logger.Warn("rate limiter unavailable, dropping paid channel",
					zap.String("channel", channel.String()),
					zap.Error(err),
				)
				if o.metrics != nil {
					o.metrics.IncRateLimitDropped(channel.String(), "limiter_error")
				}
				continue
			}
		}
		if !allowed {
			if o.metrics != nil {
				o.metrics.IncRateLimitDropped(channel.String(), "limited")
			}
			continue
		}
		channels = append(channels, channel)
	}

	if len(channels) == 0 {
		if len(candidates) > 0 {
			return nil, fmt.Errorf("%w: all channels for recipient %q", domain.ErrRateLimited, recipient.ID)
		}
		return nil, fmt.Errorf("%w: recipient %q", domain.ErrNoChannels, recipient.ID)
	}

	if o.metrics != nil {
		urgency := notification.Type.Urgency().String()
		for _, channel := range channels {
			o.metrics.IncChannelSelected(channel.String(), urgency)
		}
	}

	return channels, nil
}

// resolveSendTime prefers an explicit future schedule; otherwise the timing
// optimizer may defer within the type's max delay.
func (o *Orchestrator) resolveSendTime(ctx context.Context, recipient *domain.Recipient, notification *domain.Notification) (*time.Time, error) {
	now := o.now()

	if notification.ScheduledAt != nil {
		if notification.ScheduledAt.After(now) {
			return notification.ScheduledAt, nil
		}
		return nil, nil
	}

	best, err := o.optimizer.BestSendTime(ctx, recipient, notification.Type)
	if err != nil {
		o.logger.Warn("timing optimization failed, sending immediately",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return nil, nil
	}
	return best, nil
}

func (o *Orchestrator) publishDispatch(ctx context.Context, notification *domain.Notification) error {
	task := queue.TaskMessage{
		Kind:           queue.TaskDispatch,
		NotificationID: notification.ID,
		CorrelationID:  notification.CorrelationID,
		Priority:       notification.Priority,
	}
	if err := o.publisher.Publish(ctx, queue.QueueName(notification.Priority), task); err != nil {
		o.logger.Error("failed to publish dispatch task",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		if updateErr := o.notifications.UpdateStatus(ctx, notification.ID, domain.NotificationFailed); updateErr != nil {
			return fmt.Errorf("failed to publish dispatch task: %w (failed to mark as failed: %v)", err, updateErr)
		}
		notification.Status = domain.NotificationFailed
		return fmt.Errorf("failed to publish dispatch task: %w", err)
	}
	return nil
}

func (o *Orchestrator) attemptBudget(priority domain.Priority) int {
	if priority == domain.PriorityLow {
		return o.bulkAttempts
	}
	return o.maxAttempts
}

func (o *Orchestrator) resolveIdempotencyConflict(ctx context.Context, createErr error, idempotencyKey *string) (*domain.Notification, bool, error) {
	if idempotencyKey == nil {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := o.notifications.GetByIdempotencyKey(ctx, *idempotencyKey, o.now().Add(-idempotencyWindow))
	if errors.Is(err, domain.ErrNotFound) {
		// The unique index buckets by UTC day, which is coarser than the
		// rolling window: the conflicting row can sit just outside it. Resolve
		// against the row unbounded rather than failing the submit and
		// leaving the key unusable.
		existing, err = o.notifications.GetByIdempotencyKey(ctx, *idempotencyKey, time.Time{})
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after idempotency conflict: %w", err)
	}
	o.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicated key")
}

func defaultPriorityFor(notificationType domain.NotificationType) domain.Priority {
	switch notificationType.Urgency() {
	case domain.UrgencyCritical, domain.UrgencyHigh:
		return domain.PriorityHigh
	case domain.UrgencyLow:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
