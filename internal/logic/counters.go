package logic

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// Counter kinds used in logs and metric labels.
const (
	CounterKindView  = "view"
	CounterKindClick = "click"
)

// Counter write outcomes used in metric labels.
const (
	outcomeOK       = "ok"
	outcomeDropped  = "dropped"
	outcomeNotFound = "not_found"
)

// CounterStore applies single-statement increments and reports the counters
// after the write.
type CounterStore interface {
	IncrementViews(ctx context.Context, id string) (models.Counters, error)
	IncrementClicks(ctx context.Context, id string) (models.Counters, error)
}

// CounterOptions tunes retry behaviour of a CounterUpdater.
type CounterOptions struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	WriteTimeout     time.Duration
	AnomalyTolerance int64
}

// DefaultCounterOptions returns three attempts with a short exponential backoff.
func DefaultCounterOptions() CounterOptions {
	return CounterOptions{
		MaxAttempts:      3,
		InitialBackoff:   50 * time.Millisecond,
		MaxBackoff:       time.Second,
		WriteTimeout:     2 * time.Second,
		AnomalyTolerance: 5,
	}
}

// CounterUpdater increments campaign counters with bounded retries. A write
// that still fails is logged and dropped; it never blocks ad display.
type CounterUpdater struct {
	store   CounterStore
	opts    CounterOptions
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewCounterUpdater creates an updater. Zero option fields take the defaults.
func NewCounterUpdater(store CounterStore, opts CounterOptions, metrics observability.MetricsRegistry, logger *zap.Logger) *CounterUpdater {
	def := DefaultCounterOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.InitialBackoff)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.AnomalyTolerance < 0 {
		opts.AnomalyTolerance = def.AnomalyTolerance
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterUpdater{store: store, opts: opts, metrics: metrics, logger: logger}
}

// RecordView adds one view to adID.
func (u *CounterUpdater) RecordView(ctx context.Context, adID string) (models.Counters, error) {
	return u.apply(ctx, CounterKindView, adID, u.store.IncrementViews)
}

// RecordClick adds one click to adID and warns when clicks run ahead of
// views by more than the configured tolerance.
func (u *CounterUpdater) RecordClick(ctx context.Context, adID string) (models.Counters, error) {
	c, err := u.apply(ctx, CounterKindClick, adID, u.store.IncrementClicks)
	if err == nil && c.ClickAnomaly(u.opts.AnomalyTolerance) {
		u.metrics.IncrementClickAnomalies()
		middleware.LoggerFromContext(ctx, u.logger).Warn("click counter anomaly",
			zap.String("ad_id", adID),
			zap.Int64("total_views", c.Views),
			zap.Int64("total_clicks", c.Clicks),
			zap.Int64("tolerance", u.opts.AnomalyTolerance))
	}
	return c, err
}

func (u *CounterUpdater) apply(ctx context.Context, kind, adID string,
	increment func(context.Context, string) (models.Counters, error)) (models.Counters, error) {
	logger := middleware.LoggerFromContext(ctx, u.logger)
	// Once an ad is selected it counts as shown, so the caller going away
	// must not abort the write.
	base := context.WithoutCancel(ctx)

	op := func() (models.Counters, error) {
		wctx, cancel := context.WithTimeout(base, u.opts.WriteTimeout)
		defer cancel()
		c, err := increment(wctx, adID)
		if errors.Is(err, models.ErrNotFound) {
			return c, backoff.Permanent(err)
		}
		return c, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = u.opts.InitialBackoff
	eb.MaxInterval = u.opts.MaxBackoff

	c, err := backoff.Retry(base, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(u.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			u.metrics.IncrementCounterRetries(kind)
			logger.Debug("retrying counter write",
				zap.String("kind", kind), zap.String("ad_id", adID),
				zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	switch {
	case err == nil:
		u.metrics.IncrementCounterWrites(kind, outcomeOK)
		return c, nil
	case errors.Is(err, models.ErrNotFound):
		u.metrics.IncrementCounterWrites(kind, outcomeNotFound)
		logger.Warn("counter write for unknown campaign", zap.String("kind", kind), zap.String("ad_id", adID))
		return models.Counters{}, err
	default:
		u.metrics.IncrementCounterWrites(kind, outcomeDropped)
		logger.Error("dropping counter write",
			zap.String("kind", kind), zap.String("ad_id", adID),
			zap.Int("attempts", u.opts.MaxAttempts), zap.Error(err))
		return models.Counters{}, err
	}
}
