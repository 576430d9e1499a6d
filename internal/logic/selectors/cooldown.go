package selectors

import (
	"strconv"
	"time"

	logic "github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
)

// CooldownSelector is the default Selector. It prefers campaigns the viewer
// has not seen within the cooldown window, falls back to the one seen longest
// ago once everything is cooling, and rotates toward under-exposed campaigns.
//
// Ranking inside the chosen partition:
//  1. cooling only: oldest seenAt first
//  2. ascending TotalViews
//  3. the configured TieBreaker
type CooldownSelector struct {
	tieBreaker TieBreaker
}

// NewCooldownSelector constructs a CooldownSelector. A nil tie-breaker falls
// back to ByID.
func NewCooldownSelector(tb TieBreaker) *CooldownSelector {
	if tb == nil {
		tb = ByID{}
	}
	return &CooldownSelector{tieBreaker: tb}
}

// SelectAd delegates to performSelection without tracing.
func (s *CooldownSelector) SelectAd(pool []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time) Selection {
	return s.performSelection(pool, seen, cooldown, now, nil)
}

// SelectAdWithTrace behaves like SelectAd but records the intermediate
// candidate lists in the provided SelectionTrace.
func (s *CooldownSelector) SelectAdWithTrace(pool []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time, trace *logic.SelectionTrace) Selection {
	return s.performSelection(pool, seen, cooldown, now, trace)
}

func (s *CooldownSelector) performSelection(pool []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time,
	trace *logic.SelectionTrace) Selection {
	if trace != nil {
		trace.AddStep("start", pool)
	}

	servable := filterServable(pool)
	if trace != nil {
		trace.AddStep("servable", servable)
	}
	if len(servable) == 0 {
		return Selection{Partition: PartitionNone}
	}

	eligible, cooling := partitionBySeen(servable, seen, cooldown, now)
	if trace != nil {
		trace.AddStep(string(PartitionEligible), eligible)
		trace.AddStep(string(PartitionCooling), cooling)
	}

	var (
		picked    models.Campaign
		partition Partition
	)
	if len(eligible) > 0 {
		picked = s.leastExposed(eligible)
		partition = PartitionEligible
	} else {
		oldest := oldestSeen(cooling, seen)
		if trace != nil {
			trace.AddStep("oldest_seen", oldest)
		}
		picked = s.leastExposed(oldest)
		partition = PartitionCooling
	}

	if trace != nil {
		trace.AddStepWithDetails("selected", []models.Campaign{picked}, map[string]string{
			"partition":   string(partition),
			"total_views": strconv.FormatInt(picked.TotalViews, 10),
		})
	}
	return Selection{Campaign: &picked, Partition: partition}
}

// leastExposed returns the campaign with the fewest views, handing any tie to
// the tie-breaker. candidates must be non-empty.
func (s *CooldownSelector) leastExposed(candidates []models.Campaign) models.Campaign {
	minViews := candidates[0].TotalViews
	for _, c := range candidates[1:] {
		if c.TotalViews < minViews {
			minViews = c.TotalViews
		}
	}
	var ties []models.Campaign
	for _, c := range candidates {
		if c.TotalViews == minViews {
			ties = append(ties, c)
		}
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return s.tieBreaker.Break(ties)
}

// filterServable keeps active campaigns with both image and link URLs.
func filterServable(pool []models.Campaign) []models.Campaign {
	out := make([]models.Campaign, 0, len(pool))
	for _, c := range pool {
		if c.Servable() {
			out = append(out, c)
		}
	}
	return out
}

// partitionBySeen splits campaigns into those outside the cooldown window and
// those still inside it. A non-positive cooldown disables deduplication.
func partitionBySeen(campaigns []models.Campaign, seen map[string]time.Time, cooldown time.Duration, now time.Time) (eligible, cooling []models.Campaign) {
	for _, c := range campaigns {
		at, ok := seen[c.ID]
		if cooldown <= 0 || !ok || neverSeen(at) || now.Sub(at) >= cooldown {
			eligible = append(eligible, c)
			continue
		}
		cooling = append(cooling, c)
	}
	return eligible, cooling
}

// oldestSeen returns the campaigns sharing the earliest seenAt.
func oldestSeen(cooling []models.Campaign, seen map[string]time.Time) []models.Campaign {
	var (
		oldest time.Time
		out    []models.Campaign
	)
	for _, c := range cooling {
		at := seen[c.ID]
		switch {
		case len(out) == 0 || at.Before(oldest):
			oldest = at
			out = append(out[:0], c)
		case at.Equal(oldest):
			out = append(out, c)
		}
	}
	return out
}

// neverSeen treats zero and pre-epoch timestamps as missing.
func neverSeen(at time.Time) bool {
	return at.IsZero() || at.Unix() <= 0
}

var _ TracingSelector = (*CooldownSelector)(nil)
