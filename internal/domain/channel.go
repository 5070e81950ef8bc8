package domain

import (
	"fmt"
	"strings"
)

// Channel represents a delivery medium.
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
	ChannelInApp Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// AllChannels lists every supported channel in selector evaluation order.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp}
}

// ChannelCost is the normalized relative cost per channel, used by the
// selector to penalize expensive media.
func ChannelCost(c Channel) float64 {
	switch c {
	case ChannelSMS:
		return 1.0
	case ChannelEmail:
		return 0.3
	case ChannelPush:
		return 0.1
	default:
		return 0.0
	}
}

// IsPaid reports whether a channel carries per-message provider cost. Paid
// channels fail closed when the rate limiter backend is unavailable.
func (c Channel) IsPaid() bool {
	return c == ChannelSMS || c == ChannelEmail
}
