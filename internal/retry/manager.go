package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/observability"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	baseDelay      = time.Minute
	maxDelayCap    = 6 * time.Hour
	jitterFloor    = 0.8
	jitterSpread   = 0.4
	maxErrorLength = 500
)

// Quarantiner moves an exhausted delivery into the dead-letter store.
type Quarantiner interface {
	Quarantine(ctx context.Context, delivery *domain.Delivery, sendErr string) error
}

// Manager decides, after a failed send attempt, between scheduling a backed
// off retry and quarantining the delivery.
type Manager struct {
	deliveries  repository.DeliveryRepository
	deadLetters Quarantiner
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
	randFloat   func() float64
}

func NewManager(deliveries repository.DeliveryRepository, deadLetters Quarantiner, metrics *observability.Metrics, logger *zap.Logger) (*Manager, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("quarantiner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		deliveries:  deliveries,
		deadLetters: deadLetters,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		randFloat:   rand.Float64,
	}, nil
}

// Backoff returns the delay before the given attempt number is retried:
// one minute doubling per attempt, with ±20% jitter, capped at six hours.
func (m *Manager) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelayCap) {
		delay = float64(maxDelayCap)
	}

	jitter := jitterFloor + jitterSpread*m.randFloat()
	return time.Duration(delay * jitter)
}

// OnFailure records a failed attempt for a PROCESSING delivery. Every
// failure, permanent or not, gets a backed off retry while budget remains;
// only an exhausted budget marks the delivery terminal and quarantines it.
func (m *Manager) OnFailure(ctx context.Context, delivery *domain.Delivery, sendErr error, permanent bool) error {
	if delivery == nil {
		return fmt.Errorf("%w: delivery is required", domain.ErrValidation)
	}

	reason := "unknown"
	if sendErr != nil {
		reason = sendErr.Error()
	}
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}

	attempt := delivery.AttemptCount + 1
	exhausted := attempt >= delivery.MaxAttempts

	if exhausted {
		return m.quarantine(ctx, delivery, reason, permanent)
	}

	nextRetryAt := m.now().Add(m.Backoff(attempt))
	if err := m.deliveries.ScheduleRetry(ctx, delivery.ID, reason, nextRetryAt); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	if m.metrics != nil {
		m.metrics.IncRetryScheduled(delivery.Channel.String())
	}
	m.logger.Info("delivery retry scheduled",
		zap.String("deliveryId", delivery.ID),
		zap.String("channel", delivery.Channel.String()),
		zap.Int("attempt", attempt),
		zap.Time("nextRetryAt", nextRetryAt),
		zap.Bool("permanentError", permanent),
		zap.String("error", reason),
	)

	return nil
}

func (m *Manager) quarantine(ctx context.Context, delivery *domain.Delivery, reason string, permanent bool) error {
	if err := m.deliveries.MarkFailedTerminal(ctx, delivery.ID, reason); err != nil {
		return fmt.Errorf("failed to mark delivery terminal: %w", err)
	}
	if err := m.deadLetters.Quarantine(ctx, delivery, reason); err != nil {
		// The delivery is already terminal; losing the audit row is worth a
		// log line, not a failed batch.
		m.logger.Error("dead-letter quarantine failed",
			zap.String("deliveryId", delivery.ID),
			zap.Error(err),
		)
	}

	if m.metrics != nil {
		m.metrics.IncDeadLettered(delivery.Channel.String())
	}
	m.logger.Warn("delivery failed terminally",
		zap.String("deliveryId", delivery.ID),
		zap.String("channel", delivery.Channel.String()),
		zap.Int("attempts", delivery.AttemptCount+1),
		zap.Bool("permanentError", permanent),
		zap.String("error", reason),
	)

	return nil
}
