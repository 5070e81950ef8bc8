package ratelimit

import (
	"context"

	"github.com/queueme/notification-engine/internal/domain"
)

// GlobalScope is the counter scope shared by all recipients of a channel.
const GlobalScope = "global"

// Limiter enforces per-recipient and global send budgets per channel within a
// fixed window. Allow increments the counters when the request passes; a
// denial leaves no trace beyond the increments already taken.
type Limiter interface {
	Allow(ctx context.Context, recipientID string, channel domain.Channel) (bool, error)
}

// FailOpen reports whether a limiter backend failure should let the channel
// through. Paid channels (SMS, email) fail closed: an unavailable limiter
// must not bypass cost controls. Free channels fail open.
func FailOpen(channel domain.Channel) bool {
	return !channel.IsPaid()
}

// Limits is the per-channel budget for one window. Zero or negative values
// mean unlimited.
type Limits struct {
	PerRecipient int64
	Global       int64
}
