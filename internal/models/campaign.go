package models

import (
	"strings"
	"time"
)

// Campaign is a single advertisement as stored by the admin tool. The rotation
// service only reads the display payload and the active flag and only ever
// increments the two counters.
type Campaign struct {
	ID             string    `json:"id"`              // Opaque, immutable identifier.
	AdvertiserName string    `json:"advertiser_name"` // Shown next to the creative.
	ImageURL       string    `json:"image_url"`       // Creative image; required to serve.
	LinkURL        string    `json:"link_url"`        // Click destination; required to serve.
	IsActive       bool      `json:"is_active"`       // Toggled by the admin tool.
	TotalViews     int64     `json:"total_views"`     // Incremented once per selection.
	TotalClicks    int64     `json:"total_clicks"`    // Incremented once per reported click.
	CreatedAt      time.Time `json:"created_at"`
}

// WellFormed reports whether the campaign carries a usable display payload.
func (c Campaign) WellFormed() bool {
	return strings.TrimSpace(c.ImageURL) != "" && strings.TrimSpace(c.LinkURL) != ""
}

// Servable reports whether the campaign may be shown at all.
func (c Campaign) Servable() bool {
	return c.IsActive && c.WellFormed()
}

// CTR returns the click-through rate, or 0 when the campaign has no views.
func (c Campaign) CTR() float64 {
	if c.TotalViews <= 0 {
		return 0
	}
	return float64(c.TotalClicks) / float64(c.TotalViews)
}

// Counters is the state of a campaign's counters right after an increment.
type Counters struct {
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`
}

// ClickAnomaly reports whether clicks exceed views by more than tolerance.
// Clicks are reported independently of views so small excesses are normal.
func (c Counters) ClickAnomaly(tolerance int64) bool {
	return c.Clicks-c.Views > tolerance
}
