package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

// CampaignLister is the part of the campaign repository the pool cache reads.
type CampaignLister interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// PoolNotifier broadcasts that the campaign pool changed so other instances
// can reload.
type PoolNotifier interface {
	PublishPoolUpdate(ctx context.Context, instanceID string) error
}

// PoolCache keeps an in-memory snapshot of the campaign pool and refreshes it
// from the repository. Requests read the snapshot; a failed reload leaves the
// previous snapshot in place.
type PoolCache struct {
	Repo       CampaignLister
	Store      models.CampaignStore
	Notifier   PoolNotifier
	InstanceID string
	Metrics    observability.MetricsRegistry
	Logger     *zap.Logger

	reloadMu sync.Mutex
}

// NewPoolCache creates a cache backed by an empty snapshot. Call Warm or
// Reload before serving.
func NewPoolCache(repo CampaignLister, metrics observability.MetricsRegistry, logger *zap.Logger) *PoolCache {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolCache{
		Repo:    repo,
		Store:   models.NewInMemoryCampaignStore(),
		Metrics: metrics,
		Logger:  logger,
	}
}

// ActiveCampaigns returns the servable campaigns in the current snapshot.
func (p *PoolCache) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return p.Store.ActiveCampaigns(ctx)
}

// Campaign returns one campaign from the snapshot, active or not.
func (p *PoolCache) Campaign(id string) *models.Campaign {
	return p.Store.GetCampaign(id)
}

// Reload fetches every campaign from the repository and swaps the snapshot.
func (p *PoolCache) Reload(ctx context.Context) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	campaigns, err := p.Repo.ListCampaigns(ctx)
	if err != nil {
		p.Metrics.IncrementPoolReloads("error")
		return fmt.Errorf("list campaigns: %w", err)
	}
	if err := p.Store.ReloadAll(campaigns); err != nil {
		p.Metrics.IncrementPoolReloads("error")
		return fmt.Errorf("install snapshot: %w", err)
	}

	active, _ := p.Store.ActiveCampaigns(ctx)
	p.Metrics.IncrementPoolReloads("ok")
	p.Metrics.SetPoolSize(len(active))
	p.Logger.Debug("campaign pool reloaded",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("active", len(active)))
	return nil
}

// Warm performs the first reload. A failure leaves the empty snapshot in
// place so the server starts serving no ad; Run retries on the next tick.
func (p *PoolCache) Warm(ctx context.Context) {
	if err := p.Reload(ctx); err != nil {
		p.Logger.Warn("initial pool load failed, starting with an empty pool", zap.Error(err))
	}
}

// ReloadAndNotify reloads locally and then tells other instances to do the
// same. A failed notification is logged; the local reload still counts.
func (p *PoolCache) ReloadAndNotify(ctx context.Context) error {
	if err := p.Reload(ctx); err != nil {
		return err
	}
	if p.Notifier == nil {
		return nil
	}
	if err := p.Notifier.PublishPoolUpdate(ctx, p.InstanceID); err != nil {
		p.Logger.Warn("failed to publish pool update", zap.Error(err))
	}
	return nil
}

// Run reloads the pool every interval and whenever another instance
// publishes on updates. It returns when ctx is done. Either trigger may be
// disabled: a non-positive interval or a nil channel.
func (p *PoolCache) Run(ctx context.Context, interval time.Duration, updates <-chan string) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := p.Reload(ctx); err != nil {
				p.Logger.Error("periodic pool reload failed", zap.Error(err))
			}
		case origin, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if origin == p.InstanceID {
				continue
			}
			if err := p.Reload(ctx); err != nil {
				p.Logger.Error("pool reload after update failed", zap.String("origin", origin), zap.Error(err))
			}
		}
	}
}

var _ PoolSource = (*PoolCache)(nil)

// ActiveLoader reads the servable pool straight from the repository.
type ActiveLoader interface {
	LoadActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// RepositoryPool is a PoolSource that queries the repository on every
// request instead of caching. It is used when RELOAD_INTERVAL is zero.
type RepositoryPool struct {
	Repo ActiveLoader
}

// ActiveCampaigns loads the active pool from the repository.
func (p RepositoryPool) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return p.Repo.LoadActiveCampaigns(ctx)
}

var _ PoolSource = RepositoryPool{}
