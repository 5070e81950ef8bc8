package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType enumerates the business events that produce notifications.
type NotificationType string

const (
	TypeQueueCalled         NotificationType = "QUEUE_CALLED"
	TypeQueuePosition       NotificationType = "QUEUE_POSITION"
	TypeAppointmentReminder NotificationType = "APPOINTMENT_REMINDER"
	TypeAppointmentCanceled NotificationType = "APPOINTMENT_CANCELED"
	TypeBookingConfirmed    NotificationType = "BOOKING_CONFIRMED"
	TypePaymentReceipt      NotificationType = "PAYMENT_RECEIPT"
	TypeReviewRequest       NotificationType = "REVIEW_REQUEST"
	TypePromotion           NotificationType = "PROMOTION"
	TypeSystemAlert         NotificationType = "SYSTEM_ALERT"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	_, ok := typeProfiles[t]
	return ok
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// Urgency classifies a notification type for channel selection and timing.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

func (u Urgency) String() string { return string(u) }

type typeProfile struct {
	urgency  Urgency
	maxDelay time.Duration
}

var typeProfiles = map[NotificationType]typeProfile{
	TypeQueueCalled:         {UrgencyCritical, 0},
	TypeQueuePosition:       {UrgencyHigh, 0},
	TypeAppointmentReminder: {UrgencyHigh, time.Hour},
	TypeAppointmentCanceled: {UrgencyCritical, 0},
	TypeBookingConfirmed:    {UrgencyMedium, 2 * time.Hour},
	TypePaymentReceipt:      {UrgencyMedium, 4 * time.Hour},
	TypeReviewRequest:       {UrgencyLow, 24 * time.Hour},
	TypePromotion:           {UrgencyLow, 12 * time.Hour},
	TypeSystemAlert:         {UrgencyHigh, 0},
}

// Urgency returns the static urgency classification of the type.
func (t NotificationType) Urgency() Urgency {
	if p, ok := typeProfiles[t]; ok {
		return p.urgency
	}
	return UrgencyMedium
}

// MaxDelay returns how long delivery of this type may be deferred.
// Zero means the type must always be sent immediately.
func (t NotificationType) MaxDelay() time.Duration {
	if p, ok := typeProfiles[t]; ok {
		return p.maxDelay
	}
	return 0
}
