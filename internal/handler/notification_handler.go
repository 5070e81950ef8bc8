package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/orchestrator"
	"github.com/queueme/notification-engine/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Notification, error)
	Status(ctx context.Context, id string) (*orchestrator.StatusView, error)
	Cancel(ctx context.Context, id string) (*domain.Notification, error)
	MarkRead(ctx context.Context, id string) error
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SubmitNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Post("/notifications/:id/read", h.MarkNotificationRead)
	v1.Get("/notifications", h.ListNotifications)

	return nil
}

type submitNotificationRequest struct {
	RecipientID    string         `json:"recipientId"`
	RecipientIDs   []string       `json:"recipientIds,omitempty"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Data           map[string]any `json:"data,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Channels       []string       `json:"channels,omitempty"`
	IdempotencyKey *string        `json:"idempotencyKey,omitempty"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
}

type notificationResponse struct {
	ID                string         `json:"id"`
	CorrelationID     string         `json:"correlationId,omitempty"`
	IdempotencyKey    *string        `json:"idempotencyKey,omitempty"`
	RecipientID       string         `json:"recipientId"`
	Type              string         `json:"type"`
	Title             string         `json:"title"`
	Body              string         `json:"body"`
	Data              map[string]any `json:"data,omitempty"`
	Priority          string         `json:"priority"`
	RequestedChannels []string       `json:"requestedChannels,omitempty"`
	Status            string         `json:"status"`
	ScheduledAt       *time.Time     `json:"scheduledAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt,omitempty"`
}

type deliveryResponse struct {
	ID                string     `json:"id"`
	Channel           string     `json:"channel"`
	State             string     `json:"state"`
	AttemptCount      int        `json:"attemptCount"`
	MaxAttempts       int        `json:"maxAttempts"`
	LastError         *string    `json:"lastError,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt,omitempty"`
}

type notificationStatusResponse struct {
	notificationResponse
	Deliveries []deliveryResponse `json:"deliveries"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) SubmitNotification(c *fiber.Ctx) error {
	var req submitNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	submitReq, err := requestToSubmit(req, requestCorrelationID(c))
	if err != nil {
		return toHTTPError(err)
	}

	if len(req.RecipientIDs) == 0 {
		created, err := h.service.Submit(c.Context(), submitReq)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(created))
	}

	return h.submitFanOut(c, submitReq, req.RecipientIDs)
}

type submitFailure struct {
	RecipientID string `json:"recipientId"`
	Error       string `json:"error"`
}

type submitFanOutResponse struct {
	CorrelationID string                 `json:"correlationId"`
	Notifications []notificationResponse `json:"notifications"`
	Failures      []submitFailure        `json:"failures,omitempty"`
}

// submitFanOut creates one notification per recipient, all sharing one
// correlation ID. Per-recipient failures do not abort the rest.
func (h *NotificationHandler) submitFanOut(c *fiber.Ctx, submitReq orchestrator.SubmitRequest, recipientIDs []string) error {
	if submitReq.RecipientID != "" {
		return toHTTPError(fmt.Errorf("%w: use recipientId or recipientIds, not both", domain.ErrValidation))
	}
	if submitReq.CorrelationID == "" {
		submitReq.CorrelationID = uuid.NewString()
	}
	// A shared key would collapse the fan-out into one notification.
	if submitReq.IdempotencyKey != nil {
		return toHTTPError(fmt.Errorf("%w: idempotencyKey is not supported for multi-recipient submit", domain.ErrValidation))
	}

	created := make([]notificationResponse, 0, len(recipientIDs))
	failures := make([]submitFailure, 0)
	for _, recipientID := range recipientIDs {
		perRecipient := submitReq
		perRecipient.RecipientID = strings.TrimSpace(recipientID)

		notification, err := h.service.Submit(c.Context(), perRecipient)
		if err != nil {
			failures = append(failures, submitFailure{
				RecipientID: perRecipient.RecipientID,
				Error:       err.Error(),
			})
			continue
		}
		created = append(created, toNotificationResponse(notification))
	}

	if len(created) == 0 && len(failures) > 0 {
		return toHTTPError(fmt.Errorf("%w: all recipients failed: %s", domain.ErrValidation, failures[0].Error))
	}

	return c.Status(fiber.StatusAccepted).JSON(submitFanOutResponse{
		CorrelationID: submitReq.CorrelationID,
		Notifications: created,
		Failures:      failures,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	view, err := h.service.Status(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	deliveries := make([]deliveryResponse, 0, len(view.Deliveries))
	for i := range view.Deliveries {
		deliveries = append(deliveries, toDeliveryResponse(&view.Deliveries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(notificationStatusResponse{
		notificationResponse: toNotificationResponse(&view.Notification),
		Deliveries:           deliveries,
	})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) MarkNotificationRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.MarkRead(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"read":           true,
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseNotificationStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		notificationType, err := domain.ParseNotificationTypeFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &notificationType
	}

	if recipientID := strings.TrimSpace(c.Query("recipientId")); recipientID != "" {
		params.RecipientID = &recipientID
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestToSubmit(req submitNotificationRequest, fallbackCorrelationID string) (orchestrator.SubmitRequest, error) {
	notificationType, err := domain.ParseNotificationTypeFromString(req.Type)
	if err != nil {
		return orchestrator.SubmitRequest{}, err
	}

	var priority domain.Priority
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return orchestrator.SubmitRequest{}, err
		}
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return orchestrator.SubmitRequest{}, err
		}
		channels = append(channels, channel)
	}

	submitReq := orchestrator.SubmitRequest{
		RecipientID:    strings.TrimSpace(req.RecipientID),
		Type:           notificationType,
		Title:          strings.TrimSpace(req.Title),
		Body:           strings.TrimSpace(req.Body),
		Data:           req.Data,
		Priority:       priority,
		Channels:       channels,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  strings.TrimSpace(req.CorrelationID),
		ScheduledAt:    req.ScheduledAt,
	}

	if submitReq.CorrelationID == "" {
		submitReq.CorrelationID = strings.TrimSpace(fallbackCorrelationID)
	}

	return submitReq, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	channels := make([]string, 0, len(n.RequestedChannels))
	for _, channel := range n.RequestedChannels {
		channels = append(channels, channel.String())
	}

	return notificationResponse{
		ID:                n.ID,
		CorrelationID:     n.CorrelationID,
		IdempotencyKey:    n.IdempotencyKey,
		RecipientID:       n.RecipientID,
		Type:              n.Type.String(),
		Title:             n.Title,
		Body:              n.Body,
		Data:              n.Data,
		Priority:          n.Priority.String(),
		RequestedChannels: channels,
		Status:            n.Status.String(),
		ScheduledAt:       n.ScheduledAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	if d == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:                d.ID,
		Channel:           d.Channel.String(),
		State:             d.State.String(),
		AttemptCount:      d.AttemptCount,
		MaxAttempts:       d.MaxAttempts,
		LastError:         d.LastError,
		ProviderMessageID: d.ProviderMessageID,
		NextRetryAt:       d.NextRetryAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoChannels):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}
