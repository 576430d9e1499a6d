package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var errUnavailable = errors.New("unavailable")

type brokenSeenStore struct{}

func (brokenSeenStore) GetSeen(context.Context, string) (map[string]time.Time, error) {
	return nil, errUnavailable
}

func (brokenSeenStore) MarkSeen(context.Context, string, string, time.Time, time.Duration) (time.Time, error) {
	return time.Time{}, errUnavailable
}

func (brokenSeenStore) PruneSeen(context.Context, time.Time) (int64, error) {
	return 0, errUnavailable
}

type brokenPool struct{}

func (brokenPool) ActiveCampaigns(context.Context) ([]models.Campaign, error) {
	return nil, errUnavailable
}

// stallingCounterStore hangs the first stalls view increments until their
// write deadline passes, then behaves like the wrapped repository.
type stallingCounterStore struct {
	*db.MemoryRepository

	mu     sync.Mutex
	stalls int
}

func (s *stallingCounterStore) IncrementViews(ctx context.Context, id string) (models.Counters, error) {
	s.mu.Lock()
	stall := s.stalls > 0
	if stall {
		s.stalls--
	}
	s.mu.Unlock()
	if stall {
		<-ctx.Done()
		return models.Counters{}, ctx.Err()
	}
	return s.MemoryRepository.IncrementViews(ctx, id)
}

type fixture struct {
	svc       *AdService
	repo      *db.MemoryRepository
	seen      *db.MemorySeenStore
	metrics   *observability.MockMetricsRegistry
	analytics *analytics.MockAnalytics
	now       time.Time
}

func newFixture(t *testing.T, campaigns ...models.Campaign) *fixture {
	t.Helper()
	f := &fixture{
		repo:      db.NewMemoryRepository(campaigns...),
		seen:      db.NewMemorySeenStore(),
		metrics:   observability.NewMockMetricsRegistry(),
		analytics: analytics.NewMockAnalytics(),
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := logic.DefaultCounterOptions()
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 2 * time.Millisecond

	f.svc = New(
		RepositoryPool{Repo: f.repo},
		selectors.NewCooldownSelector(selectors.ByID{}),
		logic.NewSeenTracker(f.seen, 25*time.Hour, f.metrics, nil),
		logic.NewCounterUpdater(f.repo, opts, f.metrics, nil),
		f.analytics,
		24*time.Hour,
		f.metrics,
		nil,
	)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) views(t *testing.T, id string) int64 {
	t.Helper()
	c, err := f.repo.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	return c.TotalViews
}

func TestGetActiveAdvertisement_RotatesAndFallsBack(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 10), models.NewTestCampaign("x2", 5))
	ctx := context.Background()

	// Nothing seen: fewest views wins.
	ad := f.svc.GetActiveAdvertisement(ctx, "viewer-1")
	require.NotNil(t, ad)
	assert.Equal(t, "x2", ad.ID)
	assert.Equal(t, int64(6), f.views(t, "x2"))

	// x2 is cooling, so x1 is the only eligible campaign.
	f.now = f.now.Add(time.Minute)
	ad = f.svc.GetActiveAdvertisement(ctx, "viewer-1")
	require.NotNil(t, ad)
	assert.Equal(t, "x1", ad.ID)
	assert.Equal(t, int64(11), f.views(t, "x1"))

	// Both cooling: the one seen longest ago comes back.
	f.now = f.now.Add(time.Minute)
	ad = f.svc.GetActiveAdvertisement(ctx, "viewer-1")
	require.NotNil(t, ad)
	assert.Equal(t, "x2", ad.ID)

	assert.Equal(t, int64(2), f.metrics.Count("selections:eligible"))
	assert.Equal(t, int64(1), f.metrics.Count("selections:cooling"))
}

func TestGetActiveAdvertisement_CooldownExpires(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 10), models.NewTestCampaign("x2", 5))
	ctx := context.Background()

	require.Equal(t, "x2", f.svc.GetActiveAdvertisement(ctx, "viewer-1").ID)

	f.now = f.now.Add(24 * time.Hour)
	ad := f.svc.GetActiveAdvertisement(ctx, "viewer-1")
	require.NotNil(t, ad)
	// x2 is eligible again and still has fewer views than x1.
	assert.Equal(t, "x2", ad.ID)
}

func TestGetActiveAdvertisement_MarksSeen(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))

	ad := f.svc.GetActiveAdvertisement(context.Background(), "viewer-1")
	require.NotNil(t, ad)

	seen, err := f.seen.GetSeen(context.Background(), "viewer-1")
	require.NoError(t, err)
	require.Contains(t, seen, "x1")
	assert.True(t, f.now.Equal(seen["x1"]))
}

func TestGetActiveAdvertisement_NoServableCampaign(t *testing.T) {
	broken := models.NewTestCampaign("x1", 0)
	broken.ImageURL = ""
	inactive := models.NewTestCampaign("x2", 0)
	inactive.IsActive = false
	f := newFixture(t, broken, inactive)

	assert.Nil(t, f.svc.GetActiveAdvertisement(context.Background(), "viewer-1"))
	assert.Equal(t, int64(0), f.views(t, "x1"))
	assert.Equal(t, int64(0), f.views(t, "x2"))
	assert.Empty(t, f.analytics.Events())
	assert.Equal(t, int64(1), f.metrics.Count("selections:none"))
}

func TestGetActiveAdvertisement_AnonymousViewer(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0), models.NewTestCampaign("x2", 0))
	ctx := context.Background()

	first := f.svc.GetActiveAdvertisement(ctx, "")
	second := f.svc.GetActiveAdvertisement(ctx, "")
	require.NotNil(t, first)
	require.NotNil(t, second)

	// No seen history is kept, so rotation is driven by views alone.
	assert.Equal(t, "x1", first.ID)
	assert.Equal(t, "x2", second.ID)
	assert.Equal(t, int64(1), f.views(t, "x1"))
	assert.Equal(t, int64(1), f.views(t, "x2"))
}

func TestGetActiveAdvertisement_SeenStoreDown(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 3), models.NewTestCampaign("x2", 1))
	f.svc.Seen = logic.NewSeenTracker(brokenSeenStore{}, time.Hour, f.metrics, nil)

	ad := f.svc.GetActiveAdvertisement(context.Background(), "viewer-1")
	require.NotNil(t, ad)
	assert.Equal(t, "x2", ad.ID)
	assert.Equal(t, int64(2), f.views(t, "x2"))
	assert.Equal(t, int64(1), f.metrics.Count("seen_read_degraded"))
	assert.Equal(t, int64(1), f.metrics.Count("seen_write_failures"))
}

func TestGetActiveAdvertisement_PoolUnavailable(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))
	f.svc.Pool = brokenPool{}

	assert.Nil(t, f.svc.GetActiveAdvertisement(context.Background(), "viewer-1"))
	assert.Equal(t, int64(0), f.views(t, "x1"))
}

func TestGetAdToShow_ConcurrentCallsCountEveryView(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))
	pool := []models.Campaign{models.NewTestCampaign("x1", 0)}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ad := f.svc.GetAdToShow(context.Background(), "viewer-1", pool)
			assert.NotNil(t, ad)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), f.views(t, "x1"))
}

func TestGetAdToShow_CancelledCallerStillRecords(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ad := f.svc.GetAdToShow(ctx, "viewer-1", []models.Campaign{models.NewTestCampaign("x1", 0)})
	require.NotNil(t, ad)
	assert.Equal(t, int64(1), f.views(t, "x1"))
}

func TestGetAdToShow_SlowCounterStoreDoesNotDelaySelection(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))
	store := &stallingCounterStore{MemoryRepository: f.repo, stalls: 2}
	f.svc.Counters = logic.NewCounterUpdater(store, logic.CounterOptions{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		WriteTimeout:   300 * time.Millisecond,
	}, f.metrics, nil)
	f.svc.RecordWait = 20 * time.Millisecond

	start := time.Now()
	ad := f.svc.GetActiveAdvertisement(context.Background(), "viewer-1")
	elapsed := time.Since(start)

	require.NotNil(t, ad)
	assert.Less(t, elapsed, 250*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))
	assert.Equal(t, int64(1), f.views(t, "x1"))
	assert.Equal(t, int64(1), f.metrics.Count("counter_writes:view:ok"))
}

func TestGetAdToShow_RecordsImpressionEvent(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))

	f.svc.GetAdToShow(context.Background(), "viewer-1", []models.Campaign{models.NewTestCampaign("x1", 0)})

	events := f.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventImpression, events[0].Type)
	assert.Equal(t, "x1", events[0].AdID)
	assert.Equal(t, "eligible", events[0].Partition)
	assert.Equal(t, analytics.HashViewerKey("viewer-1"), events[0].ViewerHash)
}

func TestGetAdToShow_AnalyticsFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 0))
	f.analytics.Err = errUnavailable

	ad := f.svc.GetAdToShow(context.Background(), "viewer-1", []models.Campaign{models.NewTestCampaign("x1", 0)})
	require.NotNil(t, ad)
	assert.Equal(t, int64(1), f.views(t, "x1"))
}

func TestPreview_RecordsNothing(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 4), models.NewTestCampaign("x2", 2))
	trace := &logic.SelectionTrace{}

	sel := f.svc.Preview(context.Background(), "viewer-1", trace)
	require.True(t, sel.Found())
	assert.Equal(t, "x2", sel.Campaign.ID)
	assert.NotNil(t, trace.Stage("selected"))

	assert.Equal(t, int64(2), f.views(t, "x2"))
	seen, err := f.seen.GetSeen(context.Background(), "viewer-1")
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.Empty(t, f.analytics.Events())
}

func TestRecordAdClick(t *testing.T) {
	f := newFixture(t, models.NewTestCampaign("x1", 3))

	require.NoError(t, f.svc.RecordAdClick(context.Background(), "x1", "req-1", "viewer-1"))

	c, err := f.repo.GetCampaign(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.TotalClicks)

	events := f.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventClick, events[0].Type)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, analytics.HashViewerKey("viewer-1"), events[0].ViewerHash)
}

func TestRecordAdClick_UnknownCampaign(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RecordAdClick(context.Background(), "missing", "", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.analytics.Events())
	assert.Equal(t, int64(1), f.metrics.Count("counter_writes:click:not_found"))
}
