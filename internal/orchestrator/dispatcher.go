package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/retry"
	"github.com/queueme/notification-engine/internal/sender"
	"github.com/queueme/notification-engine/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 50

// Dispatcher processes queued tasks: it claims pending deliveries, groups
// them by channel, fans batches out to the channel senders and rolls the
// aggregate status up when every batch has settled.
type Dispatcher struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	recipients    repository.RecipientRepository
	senders       map[domain.Channel]sender.ChannelSender
	retries       *retry.Manager
	tracker       *status.Tracker
	metrics       *observability.Metrics
	logger        *zap.Logger
	batchSizes    map[domain.Channel]int
	sendTimeout   time.Duration
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	recipients repository.RecipientRepository,
	senders map[domain.Channel]sender.ChannelSender,
	retries *retry.Manager,
	tracker *status.Tracker,
	metrics *observability.Metrics,
	batchSizes map[domain.Channel]int,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil || deliveries == nil || recipients == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if len(senders) == 0 {
		return nil, fmt.Errorf("at least one channel sender is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry manager is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("status tracker is required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		deliveries:    deliveries,
		recipients:    recipients,
		senders:       senders,
		retries:       retries,
		tracker:       tracker,
		metrics:       metrics,
		logger:        logger,
		batchSizes:    batchSizes,
		sendTimeout:   sendTimeout,
		now:           time.Now,
	}, nil
}

const defaultSendTimeout = 15 * time.Second

// Process handles one queued task. A nil return acks the message; an error
// nacks it for redelivery.
func (d *Dispatcher) Process(ctx context.Context, msg queue.TaskMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)

	notification, err := d.notifications.GetByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("notification not found for task, skipping",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	if notification.Status == domain.NotificationCanceled {
		d.logger.Info("skipping task for canceled notification",
			zap.String("notificationId", notification.ID),
		)
		return nil
	}

	claimed, err := d.claimTargets(ctx, msg)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	if _, err := d.notifications.UpdateStatusIf(ctx, notification.ID,
		[]domain.NotificationStatus{domain.NotificationPending, domain.NotificationScheduled},
		domain.NotificationProcessing); err != nil {
		return fmt.Errorf("failed to mark notification processing: %w", err)
	}

	recipient, err := d.recipients.GetByID(ctx, notification.RecipientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to load recipient: %w", err)
	}

	byChannel := make(map[domain.Channel][]domain.Delivery)
	for _, delivery := range claimed {
		byChannel[delivery.Channel] = append(byChannel[delivery.Channel], delivery)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for channel, channelDeliveries := range byChannel {
		for _, batch := range chunk(channelDeliveries, d.batchSizeFor(channel)) {
			channel := channel
			batch := batch
			g.Go(func() error {
				return d.dispatchBatch(groupCtx, notification, recipient, channel, batch)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := d.tracker.Refresh(ctx, notification.ID); err != nil {
		return err
	}
	return nil
}

// claimTargets moves the task's pending deliveries to PROCESSING. Deliveries
// claimed by a concurrent worker or already settled are skipped.
func (d *Dispatcher) claimTargets(ctx context.Context, msg queue.TaskMessage) ([]domain.Delivery, error) {
	var candidates []domain.Delivery

	switch msg.Kind {
	case queue.TaskRedispatch:
		delivery, err := d.deliveries.GetByID(ctx, msg.DeliveryID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				d.logger.Warn("delivery not found for redispatch, skipping",
					zap.String("deliveryId", msg.DeliveryID),
				)
				return nil, nil
			}
			return nil, fmt.Errorf("failed to load delivery: %w", err)
		}
		candidates = []domain.Delivery{*delivery}
	default:
		all, err := d.deliveries.GetByNotificationID(ctx, msg.NotificationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load deliveries: %w", err)
		}
		candidates = all
	}

	claimed := make([]domain.Delivery, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.State != domain.DeliveryPending && candidate.State != domain.DeliveryFailedTransient {
			continue
		}
		delivery, err := d.deliveries.ClaimForProcessing(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to claim delivery: %w", err)
		}
		if delivery == nil {
			continue
		}
		claimed = append(claimed, *delivery)
	}

	return claimed, nil
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, notification *domain.Notification, recipient *domain.Recipient, channel domain.Channel, batch []domain.Delivery) error {
	channelSender, ok := d.senders[channel]
	if !ok {
		return d.failBatch(ctx, channel, batch, fmt.Errorf("no sender registered for channel %s", channel), true)
	}

	queueName := strings.ToLower(channel.String())
	if d.metrics != nil {
		d.metrics.IncWorkerInFlight(queueName)
		defer d.metrics.DecWorkerInFlight(queueName)
	}

	items := make([]sender.BatchItem, 0, len(batch))
	addressable := make([]domain.Delivery, 0, len(batch))
	for _, delivery := range batch {
		address, err := channelAddress(recipient, channel)
		if err != nil {
			if failErr := d.failDelivery(ctx, delivery, err, true); failErr != nil {
				return failErr
			}
			continue
		}
		items = append(items, sender.BatchItem{
			DeliveryID:  delivery.ID,
			RecipientID: delivery.RecipientID,
			To:          address,
			Title:       notification.Title,
			Body:        notification.Body,
			Data:        notification.Data,
		})
		addressable = append(addressable, delivery)
	}
	if len(items) == 0 {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	sendStart := d.now()
	results, err := channelSender.Send(sendCtx, channel, items)
	if d.metrics != nil {
		d.metrics.ObserveDeliverySendDuration(queueName, d.now().Sub(sendStart))
	}
	if err != nil {
		return d.failBatch(ctx, channel, addressable, err, sender.IsPermanent(err))
	}

	byDelivery := make(map[string]sender.ItemResult, len(results))
	for _, result := range results {
		byDelivery[result.DeliveryID] = result
	}

	for _, delivery := range addressable {
		result, ok := byDelivery[delivery.ID]
		if !ok {
			result = sender.ItemResult{DeliveryID: delivery.ID, Err: "sender returned no result for delivery"}
		}

		if result.Success {
			var providerMessageID *string
			if strings.TrimSpace(result.ProviderMessageID) != "" {
				providerMessageID = &result.ProviderMessageID
			}
			if err := d.deliveries.MarkDelivered(ctx, delivery.ID, providerMessageID); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					continue
				}
				return fmt.Errorf("failed to mark delivery delivered: %w", err)
			}
			if d.metrics != nil {
				d.metrics.IncDeliverySent(queueName)
			}
			continue
		}

		if err := d.failDelivery(ctx, delivery, errors.New(result.Err), result.Permanent); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) failBatch(ctx context.Context, channel domain.Channel, batch []domain.Delivery, sendErr error, permanent bool) error {
	d.logger.Warn("batch send failed",
		zap.String("channel", channel.String()),
		zap.Int("deliveries", len(batch)),
		zap.Bool("permanent", permanent),
		zap.Error(sendErr),
	)
	for _, delivery := range batch {
		if err := d.failDelivery(ctx, delivery, sendErr, permanent); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) failDelivery(ctx context.Context, delivery domain.Delivery, sendErr error, permanent bool) error {
	if d.metrics != nil {
		reason := "transient_error"
		if permanent {
			reason = "permanent_error"
		}
		d.metrics.IncDeliveryFailed(strings.ToLower(delivery.Channel.String()), reason)
	}
	if err := d.retries.OnFailure(ctx, &delivery, sendErr, permanent); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}

func (d *Dispatcher) batchSizeFor(channel domain.Channel) int {
	if size, ok := d.batchSizes[channel]; ok && size > 0 {
		return size
	}
	return defaultBatchSize
}

func chunk(deliveries []domain.Delivery, size int) [][]domain.Delivery {
	if size <= 0 {
		size = defaultBatchSize
	}

	chunks := make([][]domain.Delivery, 0, (len(deliveries)+size-1)/size)
	for start := 0; start < len(deliveries); start += size {
		end := min(start+size, len(deliveries))
		chunks = append(chunks, deliveries[start:end])
	}
	return chunks
}

// channelAddress resolves the gateway address for a channel. In-app needs
// none; the delivery row itself is the inbox entry.
func channelAddress(recipient *domain.Recipient, channel domain.Channel) (string, error) {
	if channel == domain.ChannelInApp {
		return "", nil
	}
	if recipient == nil {
		return "", fmt.Errorf("recipient no longer exists")
	}

	switch channel {
	case domain.ChannelPush:
		if recipient.DeviceToken != nil && strings.TrimSpace(*recipient.DeviceToken) != "" {
			return *recipient.DeviceToken, nil
		}
		return "", fmt.Errorf("recipient has no device token")
	case domain.ChannelSMS:
		if recipient.PhoneNumber != nil && strings.TrimSpace(*recipient.PhoneNumber) != "" {
			return *recipient.PhoneNumber, nil
		}
		return "", fmt.Errorf("recipient has no phone number")
	case domain.ChannelEmail:
		if recipient.Email != nil && strings.TrimSpace(*recipient.Email) != "" {
			return *recipient.Email, nil
		}
		return "", fmt.Errorf("recipient has no email address")
	}
	return "", fmt.Errorf("unsupported channel %s", channel)
}
