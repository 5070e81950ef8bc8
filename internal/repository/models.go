package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                string                    `gorm:"type:uuid;primaryKey"`
	CorrelationID     string                    `gorm:"type:varchar(36);not null"`
	IdempotencyKey    *string                   `gorm:"type:varchar(255)"`
	RecipientID       string                    `gorm:"type:varchar(64);not null"`
	Type              domain.NotificationType   `gorm:"type:varchar(32);not null"`
	Title             string                    `gorm:"type:varchar(255)"`
	Body              string                    `gorm:"type:text"`
	Data              *string                   `gorm:"type:jsonb"`
	Priority          domain.Priority           `gorm:"type:varchar(10);not null"`
	RequestedChannels *string                   `gorm:"type:varchar(64)"`
	Status            domain.NotificationStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt       *time.Time                `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryModel is the persistence model for the deliveries table.
type DeliveryModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	NotificationID    string               `gorm:"type:uuid;not null"`
	RecipientID       string               `gorm:"type:varchar(64);not null"`
	Channel           domain.Channel       `gorm:"type:varchar(10);not null"`
	State             domain.DeliveryState `gorm:"type:varchar(20);not null"`
	AttemptCount      int                  `gorm:"not null;default:0"`
	MaxAttempts       int                  `gorm:"not null;default:5"`
	LastError         *string              `gorm:"type:text"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	NextRetryAt       *time.Time
	ScheduledAt       *time.Time `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

// DeadLetterModel is the persistence model for the dead_letters table.
type DeadLetterModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	NotificationID string         `gorm:"type:uuid;not null"`
	DeliveryID     string         `gorm:"type:uuid;not null"`
	RecipientID    string         `gorm:"type:varchar(64);not null"`
	Channel        domain.Channel `gorm:"type:varchar(10);not null"`
	Error          string         `gorm:"type:text;not null"`
	RetryCount     int            `gorm:"not null"`
	CreatedAt      time.Time
	RetriedAt      *time.Time
}

func (DeadLetterModel) TableName() string {
	return "dead_letters"
}

// RecipientModel is the persistence model for the recipients table.
type RecipientModel struct {
	ID                string  `gorm:"type:varchar(64);primaryKey"`
	DeviceToken       *string `gorm:"type:varchar(512)"`
	PhoneNumber       *string `gorm:"type:varchar(32)"`
	Email             *string `gorm:"type:varchar(255)"`
	Timezone          string  `gorm:"type:varchar(64)"`
	PreferredChannels *string `gorm:"type:varchar(64)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                n.ID,
		CorrelationID:     n.CorrelationID,
		IdempotencyKey:    n.IdempotencyKey,
		RecipientID:       n.RecipientID,
		Type:              n.Type,
		Title:             n.Title,
		Body:              n.Body,
		Data:              marshalData(n.Data),
		Priority:          n.Priority,
		RequestedChannels: joinChannels(n.RequestedChannels),
		Status:            n.Status,
		ScheduledAt:       n.ScheduledAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		IdempotencyKey:    m.IdempotencyKey,
		RecipientID:       m.RecipientID,
		Type:              m.Type,
		Title:             m.Title,
		Body:              m.Body,
		Data:              unmarshalData(m.Data),
		Priority:          m.Priority,
		RequestedChannels: splitChannels(m.RequestedChannels),
		Status:            m.Status,
		ScheduledAt:       m.ScheduledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:                d.ID,
		NotificationID:    d.NotificationID,
		RecipientID:       d.RecipientID,
		Channel:           d.Channel,
		State:             d.State,
		AttemptCount:      d.AttemptCount,
		MaxAttempts:       d.MaxAttempts,
		LastError:         d.LastError,
		ProviderMessageID: d.ProviderMessageID,
		NextRetryAt:       d.NextRetryAt,
		ScheduledAt:       d.ScheduledAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		RecipientID:       m.RecipientID,
		Channel:           m.Channel,
		State:             m.State,
		AttemptCount:      m.AttemptCount,
		MaxAttempts:       m.MaxAttempts,
		LastError:         m.LastError,
		ProviderMessageID: m.ProviderMessageID,
		NextRetryAt:       m.NextRetryAt,
		ScheduledAt:       m.ScheduledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func deadLetterModelFromDomain(e *domain.DeadLetterEntry) *DeadLetterModel {
	if e == nil {
		return nil
	}

	return &DeadLetterModel{
		ID:             e.ID,
		NotificationID: e.NotificationID,
		DeliveryID:     e.DeliveryID,
		RecipientID:    e.RecipientID,
		Channel:        e.Channel,
		Error:          e.Error,
		RetryCount:     e.RetryCount,
		CreatedAt:      e.CreatedAt,
		RetriedAt:      e.RetriedAt,
	}
}

func deadLetterModelToDomain(m *DeadLetterModel) *domain.DeadLetterEntry {
	if m == nil {
		return nil
	}

	return &domain.DeadLetterEntry{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		DeliveryID:     m.DeliveryID,
		RecipientID:    m.RecipientID,
		Channel:        m.Channel,
		Error:          m.Error,
		RetryCount:     m.RetryCount,
		CreatedAt:      m.CreatedAt,
		RetriedAt:      m.RetriedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:                m.ID,
		DeviceToken:       m.DeviceToken,
		PhoneNumber:       m.PhoneNumber,
		Email:             m.Email,
		Timezone:          m.Timezone,
		PreferredChannels: splitChannels(m.PreferredChannels),
	}
}

func marshalData(data map[string]any) *string {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func unmarshalData(raw *string) map[string]any {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(*raw), &data); err != nil {
		return nil
	}
	return data
}

func joinChannels(channels []domain.Channel) *string {
	if len(channels) == 0 {
		return nil
	}
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		parts = append(parts, ch.String())
	}
	joined := strings.Join(parts, ",")
	return &joined
}

func splitChannels(raw *string) []domain.Channel {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	parts := strings.Split(*raw, ",")
	channels := make([]domain.Channel, 0, len(parts))
	for _, part := range parts {
		ch := domain.Channel(strings.TrimSpace(part))
		if ch.IsValid() {
			channels = append(channels, ch)
		}
	}
	return channels
}
