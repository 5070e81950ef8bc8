package repository

import (
	"context"
	"errors"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository interface {
	CreateBatch(ctx context.Context, deliveries []*domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	GetByNotificationID(ctx context.Context, notificationID string) ([]domain.Delivery, error)
	ClaimForProcessing(ctx context.Context, id string) (*domain.Delivery, error)
	MarkDelivered(ctx context.Context, id string, providerMessageID *string) error
	ScheduleRetry(ctx context.Context, id string, lastError string, nextRetryAt time.Time) error
	MarkFailedTerminal(ctx context.Context, id string, lastError string) error
	ResetForRedispatch(ctx context.Context, id string) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Delivery, error)
	ReleaseForRetry(ctx context.Context, id string) error
	CancelPending(ctx context.Context, notificationID string) (int64, error)
	CountProcessing(ctx context.Context, notificationID string) (int64, error)
	StatesByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryState, error)
	MarkSeen(ctx context.Context, notificationID string) (bool, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) CreateBatch(ctx context.Context, deliveries []*domain.Delivery) error {
	models := make([]DeliveryModel, 0, len(deliveries))
	modelIndexes := make([]int, 0, len(deliveries))
	for i, d := range deliveries {
		model := deliveryModelFromDomain(d)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(deliveries) && deliveries[idx] != nil {
			*deliveries[idx] = *deliveryModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

// ClaimForProcessing locks the row and moves it to PROCESSING. A due
// FAILED_TRANSIENT row is claimable too: the scanner may enqueue the retry
// task before its release lands. A nil result without error means the
// delivery is no longer claimable.
func (r *GormDeliveryRepo) ClaimForProcessing(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if model.State != domain.DeliveryPending && model.State != domain.DeliveryFailedTransient {
		return nil, nil
	}

	model.State = domain.DeliveryProcessing
	if err := r.db.WithContext(ctx).
		Model(&model).
		Update("state", domain.DeliveryProcessing).Error; err != nil {
		return nil, err
	}

	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) MarkDelivered(ctx context.Context, id string, providerMessageID *string) error {
	updates := map[string]any{
		"state":         domain.DeliveryDelivered,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"next_retry_at": nil,
	}
	if providerMessageID != nil {
		updates["provider_message_id"] = *providerMessageID
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ScheduleRetry parks a failed attempt as FAILED_TRANSIENT until the backoff
// elapses; the retry scanner releases it back to PENDING when due.
func (r *GormDeliveryRepo) ScheduleRetry(ctx context.Context, id string, lastError string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryProcessing).
		Updates(map[string]any{
			"state":         domain.DeliveryFailedTransient,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) MarkFailedTerminal(ctx context.Context, id string, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND state IN ?", id, []domain.DeliveryState{domain.DeliveryProcessing, domain.DeliveryFailedTransient}).
		Updates(map[string]any{
			"state":         domain.DeliveryFailedTerminal,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    lastError,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ResetForRedispatch reopens a quarantined delivery for exactly one more
// attempt, driven by a manual dead-letter retry.
func (r *GormDeliveryRepo) ResetForRedispatch(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryFailedTerminal).
		Updates(map[string]any{
			"state":         domain.DeliveryPending,
			"max_attempts":  gorm.Expr("attempt_count + 1"),
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_retry_at <= ?", domain.DeliveryFailedTransient, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

// ReleaseForRetry returns a parked FAILED_TRANSIENT delivery to PENDING once
// its retry task is enqueued. Zero rows affected is not an error: a worker
// may have claimed the delivery straight from FAILED_TRANSIENT already.
func (r *GormDeliveryRepo) ReleaseForRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryFailedTransient).
		Updates(map[string]any{
			"state":         domain.DeliveryPending,
			"next_retry_at": nil,
		}).Error
}

// CancelPending cancels every delivery that is not yet in flight, including
// those parked awaiting a retry.
func (r *GormDeliveryRepo) CancelPending(ctx context.Context, notificationID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND state IN ?", notificationID,
			[]domain.DeliveryState{domain.DeliveryPending, domain.DeliveryFailedTransient}).
		Updates(map[string]any{
			"state":         domain.DeliveryCanceled,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) CountProcessing(ctx context.Context, notificationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND state = ?", notificationID, domain.DeliveryProcessing).
		Count(&count).Error
	return count, err
}

func (r *GormDeliveryRepo) StatesByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryState, error) {
	var states []domain.DeliveryState
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ?", notificationID).
		Pluck("state", &states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

// MarkSeen flips the in-app delivery of a notification from DELIVERED to
// SEEN, recording the read receipt.
func (r *GormDeliveryRepo) MarkSeen(ctx context.Context, notificationID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND channel = ? AND state = ?",
			notificationID, domain.ChannelInApp, domain.DeliveryDelivered).
		Update("state", domain.DeliverySeen)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
