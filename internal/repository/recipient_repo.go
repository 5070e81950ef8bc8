package repository

import (
	"context"
	"errors"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"gorm.io/gorm"
)

// ChannelEngagement is the read fraction of recent deliveries per channel.
type ChannelEngagement struct {
	Channel domain.Channel `gorm:"column:channel"`
	Total   int64          `gorm:"column:total"`
	Read    int64          `gorm:"column:read"`
}

type RecipientRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)
	EngagementByChannel(ctx context.Context, recipientID string, since time.Time) ([]ChannelEngagement, error)
	ReadTimestamps(ctx context.Context, recipientID string, limit int) ([]time.Time, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

// EngagementByChannel aggregates recent delivery outcomes per channel. SEEN
// counts as read; DELIVERED counts as reached but unread.
func (r *GormRecipientRepo) EngagementByChannel(ctx context.Context, recipientID string, since time.Time) ([]ChannelEngagement, error) {
	var rows []ChannelEngagement
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("channel, COUNT(*) AS total, COUNT(*) FILTER (WHERE state = ?) AS read", domain.DeliverySeen).
		Where("recipient_id = ? AND created_at >= ? AND state IN ?",
			recipientID, since,
			[]domain.DeliveryState{domain.DeliveryDelivered, domain.DeliverySeen}).
		Group("channel").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadTimestamps returns when the recipient last read notifications, newest
// first, for activity histogram building.
func (r *GormRecipientRepo) ReadTimestamps(ctx context.Context, recipientID string, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 100
	}

	var timestamps []time.Time
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("recipient_id = ? AND state = ?", recipientID, domain.DeliverySeen).
		Order("updated_at DESC").
		Limit(limit).
		Pluck("updated_at", &timestamps).Error
	if err != nil {
		return nil, err
	}
	return timestamps, nil
}
