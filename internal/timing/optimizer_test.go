package timing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/queueme/notification-engine/internal/domain"
	"github.com/queueme/notification-engine/internal/repository"
	"go.uber.org/zap"
)

type fakeRecipientRepo struct {
	readTimestampsFn func(ctx context.Context, recipientID string, limit int) ([]time.Time, error)
}

func (f *fakeRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeRecipientRepo) EngagementByChannel(ctx context.Context, recipientID string, since time.Time) ([]repository.ChannelEngagement, error) {
	return nil, nil
}

func (f *fakeRecipientRepo) ReadTimestamps(ctx context.Context, recipientID string, limit int) ([]time.Time, error) {
	if f.readTimestampsFn != nil {
		return f.readTimestampsFn(ctx, recipientID, limit)
	}
	return nil, nil
}

func newTestOptimizer(t *testing.T, repo repository.RecipientRepository, now time.Time) *Optimizer {
	t.Helper()

	optimizer, err := New(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	optimizer.now = func() time.Time { return now }
	return optimizer
}

func readsAtHour(day time.Time, hour, count int) []time.Time {
	timestamps := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		timestamps = append(timestamps, day.Add(time.Duration(hour)*time.Hour).AddDate(0, 0, -i))
	}
	return timestamps
}

func TestBestSendTimeZeroDelayIsImmediate(t *testing.T) {
	t.Parallel()

	repo := &fakeRecipientRepo{
		readTimestampsFn: func(context.Context, string, int) ([]time.Time, error) {
			t.Fatal("zero-delay types must not read history")
			return nil, nil
		},
	}
	optimizer := newTestOptimizer(t, repo, time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC))

	at, err := optimizer.BestSendTime(context.Background(), &domain.Recipient{ID: "r-1"}, domain.TypeQueueCalled)
	if err != nil {
		t.Fatalf("BestSendTime() error = %v", err)
	}
	if at != nil {
		t.Fatalf("BestSendTime() = %v, want immediate", at)
	}
}

func TestBestSendTimeDefersToActivePeak(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRecipientRepo{
		readTimestampsFn: func(context.Context, string, int) ([]time.Time, error) {
			return readsAtHour(day, 18, 20), nil
		},
	}
	now := day.Add(9*time.Hour + 30*time.Minute)
	optimizer := newTestOptimizer(t, repo, now)

	at, err := optimizer.BestSendTime(context.Background(), &domain.Recipient{ID: "r-1"}, domain.TypePromotion)
	if err != nil {
		t.Fatalf("BestSendTime() error = %v", err)
	}
	if at == nil {
		t.Fatal("BestSendTime() = immediate, want deferral to 18:00")
	}
	want := day.Add(18 * time.Hour)
	if !at.Equal(want) {
		t.Fatalf("BestSendTime() = %v, want %v", at, want)
	}
	if at.After(now.Add(domain.TypePromotion.MaxDelay())) {
		t.Fatal("deferred time exceeds the type's max delay")
	}
}

func TestBestSendTimeCurrentHourIsBest(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRecipientRepo{
		readTimestampsFn: func(context.Context, string, int) ([]time.Time, error) {
			return readsAtHour(day, 9, 15), nil
		},
	}
	optimizer := newTestOptimizer(t, repo, day.Add(9*time.Hour+30*time.Minute))

	at, err := optimizer.BestSendTime(context.Background(), &domain.Recipient{ID: "r-1"}, domain.TypeAppointmentReminder)
	if err != nil {
		t.Fatalf("BestSendTime() error = %v", err)
	}
	if at != nil {
		t.Fatalf("BestSendTime() = %v, want immediate when the best hour is underway", at)
	}
}

func TestBestSendTimeHistoryErrorFallsBack(t *testing.T) {
	t.Parallel()

	repo := &fakeRecipientRepo{
		readTimestampsFn: func(context.Context, string, int) ([]time.Time, error) {
			return nil, errors.New("db down")
		},
	}
	// 03:00 local: the default curves are quiet, a later hour must win.
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	optimizer := newTestOptimizer(t, repo, now)

	at, err := optimizer.BestSendTime(context.Background(), &domain.Recipient{ID: "r-1"}, domain.TypeReviewRequest)
	if err != nil {
		t.Fatalf("BestSendTime() error = %v", err)
	}
	if at == nil {
		t.Fatal("BestSendTime() = immediate, want a deferral out of the night hours")
	}
	if !at.After(now) {
		t.Fatalf("deferred time %v is not in the future", at)
	}
}

func TestBestSendTimeHonorsRecipientTimezone(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRecipientRepo{}
	// 10:00 UTC is 06:00 in America/New_York: a deferral should land the
	// notification in the recipient's waking hours.
	optimizer := newTestOptimizer(t, repo, day.Add(10*time.Hour))

	recipient := &domain.Recipient{ID: "r-1", Timezone: "America/New_York"}
	at, err := optimizer.BestSendTime(context.Background(), recipient, domain.TypePromotion)
	if err != nil {
		t.Fatalf("BestSendTime() error = %v", err)
	}
	if at == nil {
		t.Fatal("BestSendTime() = immediate, want a deferral past local early morning")
	}
	localHour := at.In(mustLoadLocation(t, "America/New_York")).Hour()
	if localHour < 7 {
		t.Fatalf("deferred local hour = %d, want waking hours", localHour)
	}
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s) error = %v", name, err)
	}
	return loc
}
