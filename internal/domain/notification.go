package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationStatus is the aggregate status of a notification, derived from
// the terminal states of its deliveries.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "PENDING"
	NotificationScheduled  NotificationStatus = "SCHEDULED"
	NotificationProcessing NotificationStatus = "PROCESSING"
	NotificationCompleted  NotificationStatus = "COMPLETED"
	NotificationPartial    NotificationStatus = "PARTIAL"
	NotificationFailed     NotificationStatus = "FAILED"
	NotificationCanceled   NotificationStatus = "CANCELED"
)

func (s NotificationStatus) String() string { return string(s) }

func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationPending, NotificationScheduled, NotificationProcessing,
		NotificationCompleted, NotificationPartial, NotificationFailed, NotificationCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further aggregate transitions are possible.
func (s NotificationStatus) IsTerminal() bool {
	switch s {
	case NotificationCompleted, NotificationPartial, NotificationFailed, NotificationCanceled:
		return true
	}
	return false
}

func ParseNotificationStatusFromString(s string) (NotificationStatus, error) {
	st := NotificationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Priority represents queue scheduling priority.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

const (
	MaxTitleLength = 255
	MaxBodyLength  = 4000
)

// Notification is one logical message for one recipient. Its per-channel
// delivery work lives in Delivery rows owned by this notification.
type Notification struct {
	ID                string
	CorrelationID     string
	IdempotencyKey    *string
	RecipientID       string
	Type              NotificationType
	Title             string
	Body              string
	Data              map[string]any
	Priority          Priority
	RequestedChannels []Channel
	Status            NotificationStatus
	ScheduledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: title or body is required", ErrValidation)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if len([]rune(n.Title)) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	if len([]rune(n.Body)) > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", ErrValidation, MaxBodyLength)
	}
	for _, ch := range n.RequestedChannels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}
