package sender

import (
	"context"

	"github.com/queueme/notification-engine/internal/domain"
)

// BatchItem is one delivery handed to a channel gateway.
type BatchItem struct {
	DeliveryID  string         `json:"deliveryId"`
	RecipientID string         `json:"recipientId"`
	To          string         `json:"to"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
}

// ItemResult is the per-delivery outcome of a batch send.
type ItemResult struct {
	DeliveryID        string
	Success           bool
	ProviderMessageID string
	Err               string
	Permanent         bool
}

// ChannelSender is the outbound delivery port. A non-nil error means the
// whole batch failed before per-item results were available.
type ChannelSender interface {
	Send(ctx context.Context, channel domain.Channel, items []BatchItem) ([]ItemResult, error)
}
