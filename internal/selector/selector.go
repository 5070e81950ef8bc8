package selector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"go.uber.org/zap"
)

// Scoring weights. Preference dominates, urgency fit second.
const (
	weightPreference = 5.0
	weightEngagement = 3.0
	weightCost       = 1.0
	weightUrgency    = 4.0
	weightTimeOfDay  = 2.0

	defaultEngagement = 0.5
)

// EngagementSource provides the recipient's recent read fraction per channel.
type EngagementSource interface {
	Engagement(ctx context.Context, recipientID string) (map[domain.Channel]float64, error)
}

// ScoredChannel is one ranked selection candidate.
type ScoredChannel struct {
	Channel domain.Channel
	Score   float64
}

// Selector ranks the channels available to a recipient for a notification
// type and picks the set to use based on urgency.
type Selector struct {
	engagement EngagementSource
	logger     *zap.Logger
	now        func() time.Time
}

func New(engagement EngagementSource, logger *zap.Logger) (*Selector, error) {
	if engagement == nil {
		return nil, fmt.Errorf("engagement source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Selector{
		engagement: engagement,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Select returns the channels to deliver on, ordered by descending score.
// Critical urgency takes every available channel of {push, sms}; high takes
// the top two ranked channels; anything else takes the top one. A recipient
// with no usable channel falls back to in-app alone.
func (s *Selector) Select(ctx context.Context, recipient *domain.Recipient, notificationType domain.NotificationType) ([]domain.Channel, error) {
	if recipient == nil {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	ranked, err := s.Rank(ctx, recipient, notificationType)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return []domain.Channel{domain.ChannelInApp}, nil
	}

	urgency := notificationType.Urgency()

	if urgency == domain.UrgencyCritical {
		selected := make([]domain.Channel, 0, 2)
		for _, candidate := range ranked {
			if candidate.Channel == domain.ChannelPush || candidate.Channel == domain.ChannelSMS {
				selected = append(selected, candidate.Channel)
			}
		}
		// Neither interruptive channel is available: take the best we have.
		if len(selected) == 0 {
			selected = append(selected, ranked[0].Channel)
		}
		return selected, nil
	}

	take := 1
	if urgency == domain.UrgencyHigh {
		take = 2
	}
	take = min(take, len(ranked))

	selected := make([]domain.Channel, 0, take)
	for _, candidate := range ranked[:take] {
		selected = append(selected, candidate.Channel)
	}
	return selected, nil
}

// Rank scores every channel available to the recipient, descending. Ties
// break on the fixed channel evaluation order, keeping results deterministic.
func (s *Selector) Rank(ctx context.Context, recipient *domain.Recipient, notificationType domain.NotificationType) ([]ScoredChannel, error) {
	engagement, err := s.engagement.Engagement(ctx, recipient.ID)
	if err != nil {
		s.logger.Warn("engagement lookup failed, using default",
			zap.String("recipientId", recipient.ID),
			zap.Error(err),
		)
		engagement = nil
	}

	urgency := notificationType.Urgency()
	hour := s.localHour(recipient)

	ranked := make([]ScoredChannel, 0, 4)
	for _, channel := range domain.AllChannels() {
		if !recipient.HasChannel(channel) {
			continue
		}
		ranked = append(ranked, ScoredChannel{
			Channel: channel,
			Score:   score(recipient, channel, urgency, hour, engagement),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, nil
}

func score(recipient *domain.Recipient, channel domain.Channel, urgency domain.Urgency, hour int, engagement map[domain.Channel]float64) float64 {
	preference := 0.0
	if recipient.Prefers(channel) {
		preference = 1.0
	}

	channelEngagement := defaultEngagement
	if value, ok := engagement[channel]; ok {
		channelEngagement = value
	}

	return weightPreference*preference +
		weightEngagement*channelEngagement +
		weightCost*(1.0-domain.ChannelCost(channel)) +
		weightUrgency*urgencyFit(channel, urgency) +
		weightTimeOfDay*timeOfDayFit(channel, hour)
}

// urgencyFit expresses how appropriate a channel is at a given urgency.
// Interruptive channels fit urgent messages; email fits slow ones.
func urgencyFit(channel domain.Channel, urgency domain.Urgency) float64 {
	fits := map[domain.Channel]map[domain.Urgency]float64{
		domain.ChannelPush: {
			domain.UrgencyCritical: 1.0,
			domain.UrgencyHigh:     0.9,
			domain.UrgencyMedium:   0.7,
			domain.UrgencyLow:      0.4,
		},
		domain.ChannelSMS: {
			domain.UrgencyCritical: 1.0,
			domain.UrgencyHigh:     0.7,
			domain.UrgencyMedium:   0.3,
			domain.UrgencyLow:      0.1,
		},
		domain.ChannelEmail: {
			domain.UrgencyCritical: 0.3,
			domain.UrgencyHigh:     0.5,
			domain.UrgencyMedium:   0.8,
			domain.UrgencyLow:      0.9,
		},
		domain.ChannelInApp: {
			domain.UrgencyCritical: 0.5,
			domain.UrgencyHigh:     0.6,
			domain.UrgencyMedium:   0.8,
			domain.UrgencyLow:      0.8,
		},
	}

	if byUrgency, ok := fits[channel]; ok {
		if fit, ok := byUrgency[urgency]; ok {
			return fit
		}
	}
	return 0.5
}

// timeOfDayFit penalizes interruptive channels during night hours in the
// recipient's local time. Email and in-app are roughly flat.
func timeOfDayFit(channel domain.Channel, hour int) float64 {
	night := hour >= 23 || hour < 7

	switch channel {
	case domain.ChannelPush, domain.ChannelSMS:
		if night {
			return 0.1
		}
		return 1.0
	case domain.ChannelEmail:
		if night {
			return 0.6
		}
		return 0.8
	default:
		return 0.8
	}
}

func (s *Selector) localHour(recipient *domain.Recipient) int {
	loc, err := time.LoadLocation(recipient.Location())
	if err != nil {
		loc = time.UTC
	}
	return s.now().In(loc).Hour()
}
