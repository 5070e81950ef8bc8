package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	engagementWindow   = 30 * 24 * time.Hour
	engagementCacheTTL = 5 * time.Minute
)

// CachedEngagement computes per-channel read fractions from recent delivery
// history and caches them in Redis so channel selection does not scan history
// on every submit.
type CachedEngagement struct {
	recipients repository.RecipientRepository
	cache      *goredis.Client
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time
}

var _ EngagementSource = (*CachedEngagement)(nil)

func NewCachedEngagement(recipients repository.RecipientRepository, cache *goredis.Client, logger *zap.Logger) (*CachedEngagement, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedEngagement{
		recipients: recipients,
		cache:      cache,
		logger:     logger,
		ttl:        engagementCacheTTL,
		now:        time.Now,
	}, nil
}

func (e *CachedEngagement) Engagement(ctx context.Context, recipientID string) (map[domain.Channel]float64, error) {
	cacheKey := fmt.Sprintf("engagement:%s", recipientID)

	if e.cache != nil {
		raw, err := e.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached map[domain.Channel]float64
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
		} else if err != goredis.Nil {
			e.logger.Warn("engagement cache read failed",
				zap.String("recipientId", recipientID),
				zap.Error(err),
			)
		}
	}

	since := e.now().Add(-engagementWindow)
	rows, err := e.recipients.EngagementByChannel(ctx, recipientID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute engagement: %w", err)
	}

	engagement := make(map[domain.Channel]float64, len(rows))
	for _, row := range rows {
		if row.Total <= 0 {
			continue
		}
		engagement[row.Channel] = float64(row.Read) / float64(row.Total)
	}

	if e.cache != nil {
		if raw, jsonErr := json.Marshal(engagement); jsonErr == nil {
			if err := e.cache.Set(ctx, cacheKey, raw, e.ttl).Err(); err != nil {
				e.logger.Warn("engagement cache write failed",
					zap.String("recipientId", recipientID),
					zap.Error(err),
				)
			}
		}
	}

	return engagement, nil
}
