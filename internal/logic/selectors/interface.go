package selectors

import (
	"time"

	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
)

// Partition names the group a selected campaign was drawn from.
type Partition string

const (
	// PartitionEligible holds campaigns the viewer has not seen within the cooldown.
	PartitionEligible Partition = "eligible"
	// PartitionCooling holds campaigns shown to the viewer inside the cooldown.
	// It is only drawn from when nothing is eligible.
	PartitionCooling Partition = "cooling"
	// PartitionNone means no servable campaign existed.
	PartitionNone Partition = "none"
)

// Selection is the outcome of a single selection.
type Selection struct {
	Campaign  *models.Campaign
	Partition Partition
}

// Found reports whether a campaign was selected.
func (s Selection) Found() bool {
	return s.Campaign != nil
}

// Selector defines a pluggable interface for ad selection. Implementations
// must be pure: the same inputs always yield the same output for a
// deterministic tie-break, and nothing is written anywhere.
type Selector interface {
	SelectAd(pool []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time) Selection
}

// TracingSelector is a Selector that can also record its intermediate
// candidate lists for debugging.
type TracingSelector interface {
	Selector
	SelectAdWithTrace(pool []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time, trace *logic.SelectionTrace) Selection
}
