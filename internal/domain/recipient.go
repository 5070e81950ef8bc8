package domain

import "strings"

// Recipient holds the contact capabilities the selector needs to decide
// channel availability.
type Recipient struct {
	ID                string
	DeviceToken       *string
	PhoneNumber       *string
	Email             *string
	Timezone          string
	PreferredChannels []Channel
}

// HasChannel reports whether the recipient can receive on the channel.
// In-app is always available.
func (r *Recipient) HasChannel(c Channel) bool {
	switch c {
	case ChannelPush:
		return r.DeviceToken != nil && strings.TrimSpace(*r.DeviceToken) != ""
	case ChannelSMS:
		return r.PhoneNumber != nil && strings.TrimSpace(*r.PhoneNumber) != ""
	case ChannelEmail:
		return r.Email != nil && strings.TrimSpace(*r.Email) != ""
	case ChannelInApp:
		return true
	}
	return false
}

// Prefers reports whether the channel is among the recipient's known-usable
// channels.
func (r *Recipient) Prefers(c Channel) bool {
	for _, preferred := range r.PreferredChannels {
		if preferred == c {
			return true
		}
	}
	return false
}

// Location resolves the recipient timezone, defaulting to UTC.
func (r *Recipient) Location() string {
	if strings.TrimSpace(r.Timezone) == "" {
		return "UTC"
	}
	return r.Timezone
}
