package db

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickwarner/adrotator/internal/models"
)

// ErrNotFound is returned when a counter update targets an unknown campaign.
var ErrNotFound = models.ErrNotFound

// ErrInvalidCampaign is returned when a campaign cannot be inserted.
var ErrInvalidCampaign = errors.New("invalid campaign")

// CampaignRepository is the durable campaign store. The rotation service only
// reads campaigns and increments their counters; InsertCampaign exists for
// seeding and tests.
type CampaignRepository interface {
	LoadActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
	InsertCampaign(ctx context.Context, c *models.Campaign) error

	// IncrementViews and IncrementClicks add one to the counter in a single
	// atomic statement and return the counters as they stand afterwards.
	IncrementViews(ctx context.Context, id string) (models.Counters, error)
	IncrementClicks(ctx context.Context, id string) (models.Counters, error)

	Close() error
}

// MemoryRepository keeps campaigns in process memory. It backs
// STORE_DRIVER=memory and tests that do not need SQL.
type MemoryRepository struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	now       func() time.Time
}

// NewMemoryRepository creates a repository seeded with campaigns.
func NewMemoryRepository(campaigns ...models.Campaign) *MemoryRepository {
	r := &MemoryRepository{campaigns: make(map[string]*models.Campaign), now: time.Now}
	for _, c := range campaigns {
		cp := c
		r.campaigns[c.ID] = &cp
	}
	return r
}

// LoadActiveCampaigns returns servable campaigns ordered by ID.
func (r *MemoryRepository) LoadActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	all, err := r.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, c := range all {
		if c.Servable() {
			active = append(active, c)
		}
	}
	return active, nil
}

// ListCampaigns returns every campaign ordered by ID.
func (r *MemoryRepository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]models.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, *c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCampaign returns one campaign or ErrNotFound.
func (r *MemoryRepository) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return models.Campaign{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return models.Campaign{}, ErrNotFound
	}
	return *c, nil
}

// InsertCampaign stores a new campaign. Counters start at zero.
func (r *MemoryRepository) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return ErrInvalidCampaign
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}
	c.TotalViews, c.TotalClicks = 0, 0
	cp := *c
	r.mu.Lock()
	r.campaigns[c.ID] = &cp
	r.mu.Unlock()
	return nil
}

// IncrementViews adds one view.
func (r *MemoryRepository) IncrementViews(ctx context.Context, id string) (models.Counters, error) {
	return r.increment(ctx, id, func(c *models.Campaign) { c.TotalViews++ })
}

// IncrementClicks adds one click.
func (r *MemoryRepository) IncrementClicks(ctx context.Context, id string) (models.Counters, error) {
	return r.increment(ctx, id, func(c *models.Campaign) { c.TotalClicks++ })
}

func (r *MemoryRepository) increment(ctx context.Context, id string, apply func(*models.Campaign)) (models.Counters, error) {
	if err := ctx.Err(); err != nil {
		return models.Counters{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return models.Counters{}, ErrNotFound
	}
	apply(c)
	return models.Counters{Views: c.TotalViews, Clicks: c.TotalClicks}, nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error { return nil }

var _ CampaignRepository = (*MemoryRepository)(nil)
