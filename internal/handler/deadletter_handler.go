package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
)

type DeadLetterService interface {
	List(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error)
	Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	Retry(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	Stats(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error)
}

type DeadLetterHandler struct {
	service DeadLetterService
}

func NewDeadLetterHandler(service DeadLetterService) (*DeadLetterHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dead letter service is required")
	}
	return &DeadLetterHandler{service: service}, nil
}

func RegisterDeadLetterRoutes(router fiber.Router, service DeadLetterService) error {
	h, err := NewDeadLetterHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	// The stats route must precede the :id route.
	v1.Get("/dead-letters/stats", h.GetStats)
	v1.Get("/dead-letters", h.ListDeadLetters)
	v1.Get("/dead-letters/:id", h.GetDeadLetter)
	v1.Post("/dead-letters/:id/retry", h.RetryDeadLetter)
	v1.Post("/dead-letters/cleanup", h.Cleanup)

	return nil
}

type deadLetterResponse struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notificationId"`
	DeliveryID     string     `json:"deliveryId"`
	RecipientID    string     `json:"recipientId"`
	Channel        string     `json:"channel"`
	Error          string     `json:"error"`
	RetryCount     int        `json:"retryCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	RetriedAt      *time.Time `json:"retriedAt,omitempty"`
}

type listDeadLettersResponse struct {
	Data []deadLetterResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type deadLetterStatsResponse struct {
	GroupBy string               `json:"groupBy"`
	Days    int                  `json:"days"`
	Buckets []deadLetterStatItem `json:"buckets"`
}

type deadLetterStatItem struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type cleanupRequest struct {
	RetentionDays int `json:"retentionDays"`
}

func (h *DeadLetterHandler) ListDeadLetters(c *fiber.Ctx) error {
	params, err := parseDeadLetterListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deadLetterResponse, 0, len(entries))
	for i := range entries {
		data = append(data, toDeadLetterResponse(&entries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listDeadLettersResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DeadLetterHandler) GetDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entry, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeadLetterResponse(entry))
}

func (h *DeadLetterHandler) RetryDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entry, err := h.service.Retry(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toDeadLetterResponse(entry))
}

func (h *DeadLetterHandler) Cleanup(c *fiber.Ctx) error {
	var req cleanupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	deleted, err := h.service.Cleanup(c.Context(), req.RetentionDays)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deleted": deleted,
	})
}

func (h *DeadLetterHandler) GetStats(c *fiber.Ctx) error {
	groupBy := strings.TrimSpace(c.Query("groupBy", "channel"))
	days := c.QueryInt("days", 7)
	if days < 1 {
		return toHTTPError(fmt.Errorf("%w: days must be >= 1", domain.ErrValidation))
	}

	stats, err := h.service.Stats(c.Context(), days, groupBy)
	if err != nil {
		return toHTTPError(err)
	}

	buckets := make([]deadLetterStatItem, 0, len(stats))
	for _, stat := range stats {
		buckets = append(buckets, deadLetterStatItem{Key: stat.Key, Count: stat.Count})
	}

	return c.Status(fiber.StatusOK).JSON(deadLetterStatsResponse{
		GroupBy: groupBy,
		Days:    days,
		Buckets: buckets,
	})
}

func parseDeadLetterListParams(c *fiber.Ctx) (repository.DeadLetterListParams, error) {
	params := repository.DeadLetterListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.DeadLetterListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.DeadLetterListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.DeadLetterListParams{}, err
		}
		params.Channel = &channel
	}

	if errorContains := strings.TrimSpace(c.Query("error")); errorContains != "" {
		params.ErrorContains = &errorContains
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.DeadLetterListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.DeadLetterListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func toDeadLetterResponse(entry *domain.DeadLetterEntry) deadLetterResponse {
	if entry == nil {
		return deadLetterResponse{}
	}

	return deadLetterResponse{
		ID:             entry.ID,
		NotificationID: entry.NotificationID,
		DeliveryID:     entry.DeliveryID,
		RecipientID:    entry.RecipientID,
		Channel:        entry.Channel.String(),
		Error:          entry.Error,
		RetryCount:     entry.RetryCount,
		CreatedAt:      entry.CreatedAt,
		RetriedAt:      entry.RetriedAt,
	}
}
