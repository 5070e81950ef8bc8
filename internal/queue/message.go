package queue

import (
	"fmt"
	"strings"

	"github.com/queueme/notification-engine/internal/domain"
)

// TaskKind distinguishes the two units of queued work.
type TaskKind string

const (
	// TaskDispatch processes every pending delivery of a notification.
	TaskDispatch TaskKind = "dispatch"
	// TaskRedispatch processes a single delivery, driven by retry or
	// dead-letter replay.
	TaskRedispatch TaskKind = "redispatch"
)

func (k TaskKind) IsValid() bool {
	return k == TaskDispatch || k == TaskRedispatch
}

// TaskMessage is the broker payload for dispatch work.
type TaskMessage struct {
	Kind           TaskKind        `json:"kind"`
	NotificationID string          `json:"notificationId"`
	DeliveryID     string          `json:"deliveryId,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Priority       domain.Priority `json:"priority"`
}

func (m TaskMessage) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid task kind %q", m.Kind)
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if m.Kind == TaskRedispatch && strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required for redispatch tasks")
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
