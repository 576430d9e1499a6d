package logic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// SeenStore persists the latest impression time per (viewer, ad).
type SeenStore interface {
	GetSeen(ctx context.Context, viewerKey string) (map[string]time.Time, error)
	MarkSeen(ctx context.Context, viewerKey, adID string, at time.Time, ttl time.Duration) (time.Time, error)
	PruneSeen(ctx context.Context, before time.Time) (int64, error)
}

// SeenTracker wraps a SeenStore with the read and write policies of the
// rotation service: reads fail open, writes never move seenAt backwards and
// pruning is best effort.
type SeenTracker struct {
	store   SeenStore
	ttl     time.Duration
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewSeenTracker creates a tracker. ttl is applied to a viewer's records on
// every write; zero keeps records until pruned.
func NewSeenTracker(store SeenStore, ttl time.Duration, metrics observability.MetricsRegistry, logger *zap.Logger) *SeenTracker {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeenTracker{store: store, ttl: ttl, metrics: metrics, logger: logger}
}

// GetSeen returns the viewer's seen history. It never fails: a store error
// is logged as a degraded read and an empty history is returned so the
// caller can still show an ad.
func (t *SeenTracker) GetSeen(ctx context.Context, viewerKey string) map[string]time.Time {
	if t == nil || t.store == nil || viewerKey == "" {
		return map[string]time.Time{}
	}
	seen, err := t.store.GetSeen(ctx, viewerKey)
	if err != nil {
		t.metrics.IncrementSeenReadDegraded()
		middleware.LoggerFromContext(ctx, t.logger).Warn("degraded read: seen history unavailable",
			zap.String("viewer_key", viewerKey), zap.Error(err))
		// Fail open: the viewer may see a repeat
		return map[string]time.Time{}
	}
	if seen == nil {
		seen = map[string]time.Time{}
	}
	return seen
}

// MarkSeen upserts the (viewer, ad) record. Calling it with a time earlier
// than the stored one is a no-op.
func (t *SeenTracker) MarkSeen(ctx context.Context, viewerKey, adID string, at time.Time) error {
	if t == nil || t.store == nil {
		return ErrNilSeenStore
	}
	if viewerKey == "" || adID == "" {
		return ErrEmptyKey
	}
	if _, err := t.store.MarkSeen(ctx, viewerKey, adID, at, t.ttl); err != nil {
		t.metrics.IncrementSeenWriteFailures()
		middleware.LoggerFromContext(ctx, t.logger).Error("mark seen",
			zap.String("viewer_key", viewerKey), zap.String("ad_id", adID), zap.Error(err))
		return err
	}
	return nil
}

// Prune deletes records with seenAt before the cutoff and returns how many
// were removed.
func (t *SeenTracker) Prune(ctx context.Context, before time.Time) (int64, error) {
	if t == nil || t.store == nil {
		return 0, ErrNilSeenStore
	}
	removed, err := t.store.PruneSeen(ctx, before)
	t.metrics.AddSeenPruned(removed)
	if err != nil {
		t.logger.Warn("prune seen records", zap.Time("before", before), zap.Int64("removed", removed), zap.Error(err))
		return removed, err
	}
	t.logger.Debug("pruned seen records", zap.Time("before", before), zap.Int64("removed", removed))
	return removed, nil
}
