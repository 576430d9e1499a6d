package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// PoolSource supplies the campaigns a request may choose from.
type PoolSource interface {
	ActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// AdService ties selection to its side effects: reading the viewer's seen
// history, choosing a campaign, and recording the view and seen record.
type AdService struct {
	Pool      PoolSource
	Selector  selectors.TracingSelector
	Seen      *logic.SeenTracker
	Counters  *logic.CounterUpdater
	Analytics analytics.AnalyticsService
	Metrics   observability.MetricsRegistry
	Logger    *zap.Logger

	// Cooldown is the window during which a seen campaign is deprioritised.
	Cooldown time.Duration
	// SeenWriteTimeout bounds the markSeen call made after a selection.
	SeenWriteTimeout time.Duration
	// RecordWait is how long a selection waits for its writes before
	// returning. Writes still running carry on in the background. A
	// non-positive value waits for them to finish.
	RecordWait time.Duration

	now     func() time.Time
	tracer  trace.Tracer
	pending sync.WaitGroup
}

// New wires an AdService. analyticsSvc may be nil.
func New(pool PoolSource, selector selectors.TracingSelector, seen *logic.SeenTracker, counters *logic.CounterUpdater,
	analyticsSvc analytics.AnalyticsService, cooldown time.Duration, metrics observability.MetricsRegistry, logger *zap.Logger) *AdService {
	if selector == nil {
		selector = selectors.NewCooldownSelector(nil)
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdService{
		Pool:             pool,
		Selector:         selector,
		Seen:             seen,
		Counters:         counters,
		Analytics:        analyticsSvc,
		Metrics:          metrics,
		Logger:           logger,
		Cooldown:         cooldown,
		SeenWriteTimeout: 2 * time.Second,
		RecordWait:       250 * time.Millisecond,
		now:              time.Now,
		tracer:           observability.Tracer("adrotator/service"),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *AdService) SetClock(now func() time.Time) {
	s.now = now
}

// GetAdToShow picks a campaign from pool for viewerKey and records the view
// and the seen record before returning. It returns nil when nothing in the
// pool is servable.
func (s *AdService) GetAdToShow(ctx context.Context, viewerKey string, pool []models.Campaign) *models.Campaign {
	sel := s.SelectAndRecord(ctx, viewerKey, pool, nil)
	return sel.Campaign
}

// SelectAndRecord is GetAdToShow with an optional trace and the full
// selection result.
func (s *AdService) SelectAndRecord(ctx context.Context, viewerKey string, pool []models.Campaign, tr *logic.SelectionTrace) selectors.Selection {
	ctx, span := s.tracer.Start(ctx, "AdService.SelectAndRecord")
	defer span.End()

	now := s.now()
	sel := s.selectFrom(ctx, viewerKey, pool, now, tr)
	span.SetAttributes(
		attribute.Int("pool.size", len(pool)),
		attribute.String("selection.partition", string(sel.Partition)),
	)
	if !sel.Found() {
		return sel
	}
	span.SetAttributes(attribute.String("ad.id", sel.Campaign.ID))
	s.recordShown(ctx, viewerKey, sel, now)
	return sel
}

// GetActiveAdvertisement reads the active pool and delegates to GetAdToShow.
// A pool read failure is treated as an empty pool.
func (s *AdService) GetActiveAdvertisement(ctx context.Context, viewerKey string) *models.Campaign {
	return s.SelectAndRecord(ctx, viewerKey, s.activePool(ctx), nil).Campaign
}

// ServeAd is GetActiveAdvertisement with an optional trace.
func (s *AdService) ServeAd(ctx context.Context, viewerKey string, tr *logic.SelectionTrace) selectors.Selection {
	return s.SelectAndRecord(ctx, viewerKey, s.activePool(ctx), tr)
}

// Preview runs the selection for viewerKey against the active pool without
// recording anything.
func (s *AdService) Preview(ctx context.Context, viewerKey string, tr *logic.SelectionTrace) selectors.Selection {
	return s.selectFrom(ctx, viewerKey, s.activePool(ctx), s.now(), tr)
}

// Wait blocks until every write started by a selection has finished or ctx
// is done. Call it only once no new selection can start, e.g. after the HTTP
// server has shut down.
func (s *AdService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordAdClick adds one click to adID. The returned error is informational;
// callers serving an end user should not surface it.
func (s *AdService) RecordAdClick(ctx context.Context, adID, requestID, viewerKey string) error {
	ctx, span := s.tracer.Start(ctx, "AdService.RecordAdClick")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID))

	var err error
	if s.Counters != nil {
		_, err = s.Counters.RecordClick(ctx, adID)
	}
	if err == nil {
		s.recordEvent(context.WithoutCancel(ctx), analytics.NewEvent(analytics.EventClick, adID, requestID, viewerKey, "", s.now()))
	}
	return err
}

func (s *AdService) selectFrom(ctx context.Context, viewerKey string, pool []models.Campaign, now time.Time, tr *logic.SelectionTrace) selectors.Selection {
	var seen map[string]time.Time
	if s.Seen != nil {
		seen = s.Seen.GetSeen(ctx, viewerKey)
	}
	sel := s.Selector.SelectAdWithTrace(pool, seen, s.Cooldown, now, tr)
	s.Metrics.IncrementSelections(string(sel.Partition))
	return sel
}

func (s *AdService) activePool(ctx context.Context) []models.Campaign {
	if s.Pool == nil {
		return nil
	}
	pool, err := s.Pool.ActiveCampaigns(ctx)
	if err != nil {
		middleware.LoggerFromContext(ctx, s.Logger).Warn("degraded read: campaign pool unavailable", zap.Error(err))
		return nil
	}
	return pool
}

// recordShown runs the view increment, the seen write and the event append
// concurrently on a context detached from the caller, so a disconnecting
// client does not cancel them. It waits up to RecordWait; a slow store only
// delays the writes, never the selection.
func (s *AdService) recordShown(ctx context.Context, viewerKey string, sel selectors.Selection, at time.Time) {
	base := context.WithoutCancel(ctx)
	adID := sel.Campaign.ID

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			defer wg.Done()
			fn()
		}()
	}
	if s.Counters != nil {
		spawn(func() {
			_, _ = s.Counters.RecordView(base, adID)
		})
	}
	if s.Seen != nil && viewerKey != "" {
		spawn(func() {
			wctx, cancel := context.WithTimeout(base, s.SeenWriteTimeout)
			defer cancel()
			_ = s.Seen.MarkSeen(wctx, viewerKey, adID, at)
		})
	}
	if s.Analytics != nil {
		reqID := middleware.RequestID(ctx)
		spawn(func() {
			s.recordEvent(base, analytics.NewEvent(analytics.EventImpression, adID, reqID, viewerKey, string(sel.Partition), at))
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if s.RecordWait <= 0 {
		<-done
		return
	}
	timer := time.NewTimer(s.RecordWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		middleware.LoggerFromContext(ctx, s.Logger).Warn("selection writes still in flight",
			zap.String("ad_id", adID),
			zap.Duration("waited", s.RecordWait))
	}
}

func (s *AdService) recordEvent(ctx context.Context, ev analytics.Event) {
	if s.Analytics == nil {
		return
	}
	if err := s.Analytics.RecordEvent(ctx, ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		middleware.LoggerFromContext(ctx, s.Logger).Warn("analytics event dropped",
			zap.String("event_type", ev.Type),
			zap.String("ad_id", ev.AdID),
			zap.Error(err))
	}
}
