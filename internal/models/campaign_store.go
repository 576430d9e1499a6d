package models

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// CampaignStore provides thread-safe access to the campaign pool snapshot
// used on the hot path. Writers swap the whole snapshot; readers never block.
type CampaignStore interface {
	// Read operations (hot path)
	ActiveCampaigns(ctx context.Context) ([]Campaign, error)
	GetCampaign(id string) *Campaign
	GetAllCampaigns() []Campaign
	LoadedAt() time.Time

	// Write operations (reload path)
	ReloadAll(campaigns []Campaign) error
}

// poolSnapshot represents an immutable snapshot of the campaign pool
type poolSnapshot struct {
	campaigns []Campaign
	active    []Campaign
	index     map[string]*Campaign
	loadedAt  time.Time
}

// InMemoryCampaignStore implements CampaignStore with atomic snapshot updates
type InMemoryCampaignStore struct {
	data atomic.Pointer[poolSnapshot]
	now  func() time.Time
}

// NewInMemoryCampaignStore creates an empty store.
func NewInMemoryCampaignStore() *InMemoryCampaignStore {
	store := &InMemoryCampaignStore{now: time.Now}
	store.data.Store(&poolSnapshot{
		campaigns: make([]Campaign, 0),
		active:    make([]Campaign, 0),
		index:     make(map[string]*Campaign),
	})
	return store
}

// ActiveCampaigns returns a copy of the servable campaigns in the snapshot.
// It never fails; the error is part of the signature so the snapshot and a
// live repository are interchangeable as pool sources.
func (s *InMemoryCampaignStore) ActiveCampaigns(_ context.Context) ([]Campaign, error) {
	data := s.data.Load()
	result := make([]Campaign, len(data.active))
	copy(result, data.active)
	return result, nil
}

// GetCampaign retrieves a campaign by ID, active or not.
func (s *InMemoryCampaignStore) GetCampaign(id string) *Campaign {
	data := s.data.Load()
	if c, ok := data.index[id]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// GetAllCampaigns returns every campaign in the snapshot ordered by ID.
func (s *InMemoryCampaignStore) GetAllCampaigns() []Campaign {
	data := s.data.Load()
	result := make([]Campaign, len(data.campaigns))
	copy(result, data.campaigns)
	return result
}

// LoadedAt returns when the current snapshot was installed. Zero until the
// first reload.
func (s *InMemoryCampaignStore) LoadedAt() time.Time {
	return s.data.Load().loadedAt
}

// ReloadAll replaces the snapshot. Duplicate IDs keep the last occurrence.
func (s *InMemoryCampaignStore) ReloadAll(campaigns []Campaign) error {
	byID := make(map[string]Campaign, len(campaigns))
	for _, c := range campaigns {
		if c.ID == "" {
			continue
		}
		byID[c.ID] = c
	}

	all := make([]Campaign, 0, len(byID))
	for _, c := range byID {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	index := make(map[string]*Campaign, len(all))
	active := make([]Campaign, 0, len(all))
	for i := range all {
		index[all[i].ID] = &all[i]
		if all[i].Servable() {
			active = append(active, all[i])
		}
	}

	s.data.Store(&poolSnapshot{
		campaigns: all,
		active:    active,
		index:     index,
		loadedAt:  s.now(),
	})
	return nil
}

var _ CampaignStore = (*InMemoryCampaignStore)(nil)
