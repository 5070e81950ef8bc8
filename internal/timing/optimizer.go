package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	weightActivity      = 0.7
	weightEffectiveness = 0.3

	historyLimit = 100
)

// defaultActivityCurve approximates a waking-hours profile for recipients
// with no read history: quiet at night, peaks mid-morning and early evening.
var defaultActivityCurve = [24]float64{
	0.05, 0.02, 0.02, 0.02, 0.03, 0.05, 0.15, 0.35,
	0.60, 0.80, 0.85, 0.75, 0.70, 0.65, 0.60, 0.55,
	0.60, 0.70, 0.85, 0.90, 0.80, 0.60, 0.35, 0.15,
}

// defaultEffectivenessCurve is the fallback for types without a dedicated
// profile.
var defaultEffectivenessCurve = [24]float64{
	0.10, 0.05, 0.05, 0.05, 0.05, 0.10, 0.30, 0.50,
	0.70, 0.80, 0.80, 0.70, 0.65, 0.60, 0.60, 0.60,
	0.65, 0.70, 0.75, 0.75, 0.65, 0.50, 0.30, 0.15,
}

// effectivenessCurves holds per-type hourly effectiveness. Reminders work
// best in the morning; promotions and review requests in the evening.
var effectivenessCurves = map[domain.NotificationType][24]float64{
	domain.TypeAppointmentReminder: {
		0.05, 0.05, 0.05, 0.05, 0.05, 0.10, 0.40, 0.70,
		0.90, 0.95, 0.90, 0.80, 0.70, 0.60, 0.55, 0.50,
		0.50, 0.50, 0.45, 0.40, 0.30, 0.20, 0.10, 0.05,
	},
	domain.TypePromotion: {
		0.05, 0.02, 0.02, 0.02, 0.02, 0.05, 0.10, 0.20,
		0.35, 0.45, 0.50, 0.55, 0.55, 0.50, 0.50, 0.55,
		0.65, 0.80, 0.90, 0.95, 0.85, 0.65, 0.40, 0.15,
	},
	domain.TypeReviewRequest: {
		0.05, 0.02, 0.02, 0.02, 0.02, 0.05, 0.10, 0.20,
		0.30, 0.40, 0.45, 0.55, 0.60, 0.55, 0.50, 0.55,
		0.65, 0.75, 0.90, 0.90, 0.80, 0.60, 0.35, 0.15,
	},
	domain.TypePaymentReceipt: {
		0.10, 0.05, 0.05, 0.05, 0.05, 0.10, 0.35, 0.55,
		0.75, 0.85, 0.85, 0.80, 0.75, 0.70, 0.70, 0.70,
		0.70, 0.70, 0.70, 0.65, 0.55, 0.40, 0.25, 0.15,
	},
}

// Optimizer decides whether to send now or defer to a better hour within the
// type's maximum allowable delay.
type Optimizer struct {
	recipients repository.RecipientRepository
	logger     *zap.Logger
	now        func() time.Time
}

func New(recipients repository.RecipientRepository, logger *zap.Logger) (*Optimizer, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Optimizer{
		recipients: recipients,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// BestSendTime returns a future timestamp to defer to, or nil to send
// immediately. Types with a zero max delay are always immediate.
func (o *Optimizer) BestSendTime(ctx context.Context, recipient *domain.Recipient, notificationType domain.NotificationType) (*time.Time, error) {
	if recipient == nil {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	maxDelay := notificationType.MaxDelay()
	if maxDelay <= 0 {
		return nil, nil
	}

	activity := o.activityHistogram(ctx, recipient)
	effectiveness := effectivenessCurveFor(notificationType)

	loc, err := time.LoadLocation(recipient.Location())
	if err != nil {
		loc = time.UTC
	}

	now := o.now()
	deadline := now.Add(maxDelay)

	bestAt := now
	bestScore := -1.0
	for candidate := now.Truncate(time.Hour); !candidate.After(deadline); candidate = candidate.Add(time.Hour) {
		hour := candidate.In(loc).Hour()
		score := weightActivity*activity[hour] + weightEffectiveness*effectiveness[hour]
		if score > bestScore {
			bestScore = score
			bestAt = candidate
		}
	}

	// The best hour is already underway.
	if !bestAt.After(now) {
		return nil, nil
	}
	if bestAt.After(deadline) {
		bestAt = deadline
	}
	return &bestAt, nil
}

// activityHistogram builds a normalized hourly read-activity profile from the
// recipient's recent read timestamps, falling back to the default curve when
// there is no history.
func (o *Optimizer) activityHistogram(ctx context.Context, recipient *domain.Recipient) [24]float64 {
	timestamps, err := o.recipients.ReadTimestamps(ctx, recipient.ID, historyLimit)
	if err != nil {
		o.logger.Warn("read history lookup failed, using default activity curve",
			zap.String("recipientId", recipient.ID),
			zap.Error(err),
		)
		return defaultActivityCurve
	}
	if len(timestamps) == 0 {
		return defaultActivityCurve
	}

	loc, err := time.LoadLocation(recipient.Location())
	if err != nil {
		loc = time.UTC
	}

	var counts [24]float64
	peak := 0.0
	for _, ts := range timestamps {
		hour := ts.In(loc).Hour()
		counts[hour]++
		if counts[hour] > peak {
			peak = counts[hour]
		}
	}

	var histogram [24]float64
	for hour, count := range counts {
		histogram[hour] = count / peak
	}
	return histogram
}

func effectivenessCurveFor(notificationType domain.NotificationType) [24]float64 {
	if curve, ok := effectivenessCurves[notificationType]; ok {
		return curve
	}
	return defaultEffectivenessCurve
}
