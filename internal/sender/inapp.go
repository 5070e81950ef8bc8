package sender

import (
	"context"

	"github.com/queueme/notification-engine/internal/domain"
)

// InAppSender completes in-app deliveries locally: the delivery row itself is
// the inbox entry, so there is no external call to make.
type InAppSender struct{}

func NewInAppSender() *InAppSender {
	return &InAppSender{}
}

func (s *InAppSender) Send(_ context.Context, _ domain.Channel, items []BatchItem) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, ItemResult{
			DeliveryID: item.DeliveryID,
			Success:    true,
		})
	}
	return results, nil
}
