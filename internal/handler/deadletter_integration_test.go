package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
	"github.com/queueme/notification-engine/internal/transport"
	"go.uber.org/zap"
)

type stubDeadLetterService struct {
	listFn    func(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error)
	getFn     func(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	retryFn   func(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	cleanupFn func(ctx context.Context, retentionDays int) (int64, error)
	statsFn   func(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error)
}

func (s *stubDeadLetterService) List(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubDeadLetterService) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDeadLetterService) Retry(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDeadLetterService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if s.cleanupFn != nil {
		return s.cleanupFn(ctx, retentionDays)
	}
	return 0, nil
}

func (s *stubDeadLetterService) Stats(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, days, groupBy)
	}
	return nil, nil
}

func newDeadLetterTestApp(t *testing.T, svc DeadLetterService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterDeadLetterRoutes(app, svc); err != nil {
		t.Fatalf("RegisterDeadLetterRoutes() error = %v", err)
	}

	return app
}

func TestDeadLetterIntegration_ListWithFilters(t *testing.T) {
	t.Parallel()

	svc := &stubDeadLetterService{
		listFn: func(ctx context.Context, params repository.DeadLetterListParams) ([]domain.DeadLetterEntry, int64, error) {
			if params.Channel == nil || *params.Channel != domain.ChannelSMS {
				t.Fatalf("channel filter = %v, want sms", params.Channel)
			}
			if params.ErrorContains == nil || *params.ErrorContains != "timeout" {
				t.Fatalf("error filter = %v, want timeout", params.ErrorContains)
			}
			return []domain.DeadLetterEntry{
				{
					ID:             "dl-1",
					NotificationID: "n-1",
					DeliveryID:     "d-1",
					RecipientID:    "r-1",
					Channel:        domain.ChannelSMS,
					Error:          "gateway timeout",
					RetryCount:     5,
					CreatedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
				},
			}, 1, nil
		},
	}

	app := newDeadLetterTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/dead-letters?channel=sms&error=timeout", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Meta.Total != 1 {
		t.Fatalf("list = %+v, want one entry", parsed)
	}
	if parsed.Data[0]["retryCount"] != float64(5) {
		t.Fatalf("retryCount = %v, want 5", parsed.Data[0]["retryCount"])
	}
}

func TestDeadLetterIntegration_GetAndRetry(t *testing.T) {
	t.Parallel()

	retriedAt := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	svc := &stubDeadLetterService{
		getFn: func(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
			if id != "dl-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.DeadLetterEntry{ID: "dl-1", Channel: domain.ChannelEmail}, nil
		},
		retryFn: func(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
			if id != "dl-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.DeadLetterEntry{ID: "dl-1", Channel: domain.ChannelEmail, RetriedAt: &retriedAt}, nil
		},
	}

	app := newDeadLetterTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/dead-letters/dl-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/v1/dead-letters/dl-1/retry", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("retry status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["retriedAt"] == nil {
		t.Fatal("retriedAt missing from retry response")
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/dead-letters/missing/retry", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("retry status = %d, want 404", resp.StatusCode)
	}
}

func TestDeadLetterIntegration_CleanupAndStats(t *testing.T) {
	t.Parallel()

	svc := &stubDeadLetterService{
		cleanupFn: func(ctx context.Context, retentionDays int) (int64, error) {
			if retentionDays != 14 {
				t.Fatalf("retentionDays = %d, want 14", retentionDays)
			}
			return 42, nil
		},
		statsFn: func(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error) {
			if days != 30 || groupBy != "error" {
				t.Fatalf("stats args = (%d, %s), want (30, error)", days, groupBy)
			}
			return []repository.DeadLetterStat{
				{Key: "gateway timeout", Count: 12},
				{Key: "invalid number", Count: 3},
			}, nil
		},
	}

	app := newDeadLetterTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/dead-letters/cleanup", `{"retentionDays":14}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cleanup status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var cleanupParsed map[string]any
	if err := json.Unmarshal(body, &cleanupParsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if cleanupParsed["deleted"] != float64(42) {
		t.Fatalf("deleted = %v, want 42", cleanupParsed["deleted"])
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/dead-letters/stats?days=30&groupBy=error", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("stats status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var statsParsed struct {
		GroupBy string `json:"groupBy"`
		Buckets []struct {
			Key   string `json:"key"`
			Count int64  `json:"count"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(body, &statsParsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if statsParsed.GroupBy != "error" || len(statsParsed.Buckets) != 2 {
		t.Fatalf("stats = %+v, want 2 buckets grouped by error", statsParsed)
	}

	svcErr := &stubDeadLetterService{
		statsFn: func(ctx context.Context, days int, groupBy string) ([]repository.DeadLetterStat, error) {
			return nil, errors.New("unused")
		},
	}
	appErr := newDeadLetterTestApp(t, svcErr)
	resp, _ = performRequest(t, appErr, http.MethodGet, "/v1/dead-letters/stats?days=0", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("stats status = %d, want 400 for days=0", resp.StatusCode)
	}
}
