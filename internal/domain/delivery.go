package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState is the per-channel delivery state machine.
//
// PENDING -> PROCESSING -> {DELIVERED | FAILED_TRANSIENT | FAILED_TERMINAL}
// FAILED_TRANSIENT loops back to PENDING (or straight to PROCESSING when a
// worker claims the due retry first) until retries are exhausted.
// DELIVERED may become SEEN (in-app read receipt).
type DeliveryState string

const (
	DeliveryPending         DeliveryState = "PENDING"
	DeliveryProcessing      DeliveryState = "PROCESSING"
	DeliveryDelivered       DeliveryState = "DELIVERED"
	DeliverySeen            DeliveryState = "SEEN"
	DeliveryFailedTransient DeliveryState = "FAILED_TRANSIENT"
	DeliveryFailedTerminal  DeliveryState = "FAILED_TERMINAL"
	DeliveryCanceled        DeliveryState = "CANCELED"
	DeliverySkipped         DeliveryState = "SKIPPED"
	DeliveryExpired         DeliveryState = "EXPIRED"
)

func (s DeliveryState) String() string { return string(s) }

func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryProcessing, DeliveryDelivered, DeliverySeen,
		DeliveryFailedTransient, DeliveryFailedTerminal, DeliveryCanceled,
		DeliverySkipped, DeliveryExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the state permits no further transitions.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case DeliverySeen, DeliveryFailedTerminal, DeliveryCanceled, DeliverySkipped, DeliveryExpired:
		return true
	}
	return false
}

// IsSettled reports whether the state counts as resolved for aggregate
// rollup. DELIVERED is settled even though SEEN may still follow.
func (s DeliveryState) IsSettled() bool {
	return s == DeliveryDelivered || s.IsTerminal()
}

// IsSuccess reports whether the delivery reached the recipient.
func (s DeliveryState) IsSuccess() bool {
	return s == DeliveryDelivered || s == DeliverySeen
}

func ParseDeliveryStateFromString(s string) (DeliveryState, error) {
	st := DeliveryState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery state %q", ErrValidation, s)
	}
	return st, nil
}

var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryPending:         {DeliveryProcessing, DeliveryCanceled, DeliverySkipped, DeliveryExpired},
	DeliveryProcessing:      {DeliveryDelivered, DeliveryFailedTransient, DeliveryFailedTerminal, DeliveryCanceled},
	DeliveryFailedTransient: {DeliveryPending, DeliveryProcessing, DeliveryFailedTerminal, DeliveryCanceled},
	DeliveryDelivered:       {DeliverySeen},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to DeliveryState) bool {
	for _, allowed := range deliveryTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Delivery is one unit of work: a notification on one channel. Attempt count
// only ever increases.
type Delivery struct {
	ID                string
	NotificationID    string
	RecipientID       string
	Channel           Channel
	State             DeliveryState
	AttemptCount      int
	MaxAttempts       int
	LastError         *string
	ProviderMessageID *string
	NextRetryAt       *time.Time
	ScheduledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DeriveAggregateStatus rolls delivery states up into the notification
// status. The aggregate stays PROCESSING until every delivery settles.
func DeriveAggregateStatus(states []DeliveryState) NotificationStatus {
	if len(states) == 0 {
		return NotificationPending
	}

	succeeded := 0
	failed := 0
	canceled := 0
	for _, state := range states {
		if !state.IsSettled() {
			return NotificationProcessing
		}
		switch {
		case state.IsSuccess():
			succeeded++
		case state == DeliveryFailedTerminal || state == DeliveryExpired:
			failed++
		case state == DeliveryCanceled:
			canceled++
		}
	}

	switch {
	case succeeded == 0 && failed == 0:
		// Only canceled/skipped deliveries remain.
		if canceled > 0 {
			return NotificationCanceled
		}
		return NotificationFailed
	case succeeded == 0:
		return NotificationFailed
	case failed == 0 && canceled == 0:
		return NotificationCompleted
	default:
		return NotificationPartial
	}
}
