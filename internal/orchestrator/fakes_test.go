package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/queue"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/sender"
)

type fakeNotificationRepo struct {
	mu      sync.Mutex
	created []*domain.Notification

	createFn           func(ctx context.Context, n *domain.Notification) error
	getByIDFn          func(ctx context.Context, id string) (*domain.Notification, error)
	getByIdemKeyFn     func(ctx context.Context, key string, since time.Time) (*domain.Notification, error)
	updateStatusFn     func(ctx context.Context, id string, status domain.NotificationStatus) error
	updateStatusIfFn   func(ctx context.Context, id string, from []domain.NotificationStatus, to domain.NotificationStatus) (bool, error)
	getDueForScheduleF func(ctx context.Context, limit int) ([]domain.Notification, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	f.mu.Lock()
	f.created = append(f.created, n)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) GetByIdempotencyKey(ctx context.Context, key string, since time.Time) (*domain.Notification, error) {
	if f.getByIdemKeyFn != nil {
		return f.getByIdemKeyFn(ctx, key, since)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(context.Context, repository.ListParams) ([]domain.Notification, int64, error) {
	return nil, 0, nil
}

func (f *fakeNotificationRepo) UpdateStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeNotificationRepo) UpdateStatusIf(ctx context.Context, id string, from []domain.NotificationStatus, to domain.NotificationStatus) (bool, error) {
	if f.updateStatusIfFn != nil {
		return f.updateStatusIfFn(ctx, id, from, to)
	}
	return true, nil
}

func (f *fakeNotificationRepo) GetDueForSchedule(ctx context.Context, limit int) ([]domain.Notification, error) {
	if f.getDueForScheduleF != nil {
		return f.getDueForScheduleF(ctx, limit)
	}
	return nil, nil
}

type fakeDeliveryRepo struct {
	mu      sync.Mutex
	created []*domain.Delivery

	createBatchFn        func(ctx context.Context, deliveries []*domain.Delivery) error
	getByIDFn            func(ctx context.Context, id string) (*domain.Delivery, error)
	getByNotificationFn  func(ctx context.Context, notificationID string) ([]domain.Delivery, error)
	claimFn              func(ctx context.Context, id string) (*domain.Delivery, error)
	markDeliveredFn      func(ctx context.Context, id string, providerMessageID *string) error
	scheduleRetryFn      func(ctx context.Context, id string, lastError string, nextRetryAt time.Time) error
	markFailedTerminalFn func(ctx context.Context, id string, lastError string) error
	cancelPendingFn      func(ctx context.Context, notificationID string) (int64, error)
	countProcessingFn    func(ctx context.Context, notificationID string) (int64, error)
	statesFn             func(ctx context.Context, notificationID string) ([]domain.DeliveryState, error)
	markSeenFn           func(ctx context.Context, notificationID string) (bool, error)
}

func (f *fakeDeliveryRepo) CreateBatch(ctx context.Context, deliveries []*domain.Delivery) error {
	f.mu.Lock()
	f.created = append(f.created, deliveries...)
	f.mu.Unlock()
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, deliveries)
	}
	return nil
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeliveryRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	if f.getByNotificationFn != nil {
		return f.getByNotificationFn(ctx, notificationID)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) ClaimForProcessing(ctx context.Context, id string) (*domain.Delivery, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkDelivered(ctx context.Context, id string, providerMessageID *string) error {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id, providerMessageID)
	}
	return nil
}

func (f *fakeDeliveryRepo) ScheduleRetry(ctx context.Context, id string, lastError string, nextRetryAt time.Time) error {
	if f.scheduleRetryFn != nil {
		return f.scheduleRetryFn(ctx, id, lastError, nextRetryAt)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkFailedTerminal(ctx context.Context, id string, lastError string) error {
	if f.markFailedTerminalFn != nil {
		return f.markFailedTerminalFn(ctx, id, lastError)
	}
	return nil
}

func (f *fakeDeliveryRepo) ResetForRedispatch(context.Context, string) error { return nil }

func (f *fakeDeliveryRepo) GetDueForRetry(context.Context, int) ([]domain.Delivery, error) {
	return nil, nil
}

func (f *fakeDeliveryRepo) ReleaseForRetry(context.Context, string) error { return nil }

func (f *fakeDeliveryRepo) CancelPending(ctx context.Context, notificationID string) (int64, error) {
	if f.cancelPendingFn != nil {
		return f.cancelPendingFn(ctx, notificationID)
	}
	return 0, nil
}

func (f *fakeDeliveryRepo) CountProcessing(ctx context.Context, notificationID string) (int64, error) {
	if f.countProcessingFn != nil {
		return f.countProcessingFn(ctx, notificationID)
	}
	return 0, nil
}

func (f *fakeDeliveryRepo) StatesByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryState, error) {
	if f.statesFn != nil {
		return f.statesFn(ctx, notificationID)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkSeen(ctx context.Context, notificationID string) (bool, error) {
	if f.markSeenFn != nil {
		return f.markSeenFn(ctx, notificationID)
	}
	return false, nil
}

type fakeRecipientRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.Recipient, error)
}

func (f *fakeRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRecipientRepo) EngagementByChannel(context.Context, string, time.Time) ([]repository.ChannelEngagement, error) {
	return nil, nil
}

func (f *fakeRecipientRepo) ReadTimestamps(context.Context, string, int) ([]time.Time, error) {
	return nil, nil
}

type fakeLimiter struct {
	allowFn func(ctx context.Context, recipientID string, channel domain.Channel) (bool, error)
}

func (f *fakeLimiter) Allow(ctx context.Context, recipientID string, channel domain.Channel) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, recipientID, channel)
	}
	return true, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedTask
	publishFn func(ctx context.Context, queueName string, msg queue.TaskMessage) error
}

type publishedTask struct {
	queue string
	msg   queue.TaskMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.TaskMessage) error {
	f.mu.Lock()
	f.published = append(f.published, publishedTask{queue: queueName, msg: msg})
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) tasks() []publishedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedTask(nil), f.published...)
}

func (f *fakePublisher) Close() error { return nil }

type fakeEngagement struct {
	engagementFn func(ctx context.Context, recipientID string) (map[domain.Channel]float64, error)
}

func (f *fakeEngagement) Engagement(ctx context.Context, recipientID string) (map[domain.Channel]float64, error) {
	if f.engagementFn != nil {
		return f.engagementFn(ctx, recipientID)
	}
	return nil, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   [][]sender.BatchItem
	sendFn func(ctx context.Context, channel domain.Channel, items []sender.BatchItem) ([]sender.ItemResult, error)
}

func (f *fakeSender) Send(ctx context.Context, channel domain.Channel, items []sender.BatchItem) ([]sender.ItemResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, items)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, channel, items)
	}

	results := make([]sender.ItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, sender.ItemResult{DeliveryID: item.DeliveryID, Success: true})
	}
	return results, nil
}

func (f *fakeSender) batches() [][]sender.BatchItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]sender.BatchItem(nil), f.sent...)
}

type fakeQuarantiner struct {
	mu          sync.Mutex
	quarantined []*domain.Delivery
}

func (f *fakeQuarantiner) Quarantine(_ context.Context, delivery *domain.Delivery, _ string) error {
	f.mu.Lock()
	f.quarantined = append(f.quarantined, delivery)
	f.mu.Unlock()
	return nil
}
