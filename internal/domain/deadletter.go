package domain

import "time"

// DeadLetterEntry quarantines a delivery that exhausted its retry budget.
// Entries are an audit trail: a successful manual retry stamps RetriedAt but
// never deletes the row; only age-based cleanup removes entries.
type DeadLetterEntry struct {
	ID             string
	NotificationID string
	DeliveryID     string
	RecipientID    string
	Channel        Channel
	Error          string
	RetryCount     int
	CreatedAt      time.Time
	RetriedAt      *time.Time
}
