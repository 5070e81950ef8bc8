package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"gorm.io/gorm"
)

type DeadLetterListParams struct {
	Channel       *domain.Channel
	ErrorContains *string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// DeadLetterStat is one bucket of the grouped stats query.
type DeadLetterStat struct {
	Key   string `gorm:"column:key"`
	Count int64  `gorm:"column:count"`
}

type DeadLetterRepository interface {
	Create(ctx context.Context, entry *domain.DeadLetterEntry) error
	GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	List(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error)
	MarkRetried(ctx context.Context, id string, at time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, since time.Time, groupBy string) ([]DeadLetterStat, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) Create(ctx context.Context, entry *domain.DeadLetterEntry) error {
	model := deadLetterModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *deadLetterModelToDomain(model)
	}
	return nil
}

func (r *GormDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var model DeadLetterModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deadLetterModelToDomain(&model), nil
}

func (r *GormDeadLetterRepo) List(ctx context.Context, params DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeadLetterModel{})

	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.ErrorContains != nil {
		query = query.Where("error ILIKE ?", "%"+*params.ErrorContains+"%")
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeadLetterModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.DeadLetterEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *deadLetterModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormDeadLetterRepo) MarkRetried(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeadLetterModel{}).
		Where("id = ?", id).
		Update("retried_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeadLetterRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&DeadLetterModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeadLetterRepo) Stats(ctx context.Context, since time.Time, groupBy string) ([]DeadLetterStat, error) {
	var selectExpr string
	switch groupBy {
	case "channel":
		selectExpr = "channel AS key, COUNT(*) AS count"
	case "error":
		selectExpr = "error AS key, COUNT(*) AS count"
	case "day":
		selectExpr = "TO_CHAR(created_at, 'YYYY-MM-DD') AS key, COUNT(*) AS count"
	default:
		return nil, fmt.Errorf("%w: groupBy must be one of channel, error, day", domain.ErrValidation)
	}

	var stats []DeadLetterStat
	err := r.db.WithContext(ctx).
		Model(&DeadLetterModel{}).
		Select(selectExpr).
		Where("created_at >= ?", since).
		Group("key").
		Order("count DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
