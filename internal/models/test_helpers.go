package models

import "time"

// NewTestCampaign returns an active, well-formed campaign with the given ID and
// view count. Tests override the fields they care about.
func NewTestCampaign(id string, views int64) Campaign {
	return Campaign{
		ID:             id,
		AdvertiserName: "Advertiser " + id,
		ImageURL:       "https://cdn.example.com/" + id + ".png",
		LinkURL:        "https://example.com/" + id,
		IsActive:       true,
		TotalViews:     views,
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewTestCampaignStore creates a new in-memory campaign store loaded with cs.
func NewTestCampaignStore(cs ...Campaign) *InMemoryCampaignStore {
	s := NewInMemoryCampaignStore()
	_ = s.ReloadAll(cs)
	return s
}
