package selectors

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/patrickwarner/adrotator/internal/models"
)

// ErrUnknownTieBreak is returned by ParseTieBreaker for unsupported names.
var ErrUnknownTieBreak = errors.New("unknown tie-break strategy")

// TieBreaker picks one campaign out of candidates that rank equally on every
// other criterion. ties is never empty.
type TieBreaker interface {
	Break(ties []models.Campaign) models.Campaign
}

// ByID picks the campaign with the lexicographically smallest ID. It makes
// selection fully reproducible.
type ByID struct{}

// Break implements TieBreaker.
func (ByID) Break(ties []models.Campaign) models.Campaign {
	best := ties[0]
	for _, c := range ties[1:] {
		if c.ID < best.ID {
			best = c
		}
	}
	return best
}

// WeightedRandom draws one campaign with probability proportional to Weight.
// With the default uniform weight every tie is equally likely, which spreads
// exposure across campaigns that would otherwise always lose on ID.
type WeightedRandom struct {
	// Weight returns a non-negative weight. Nil means uniform.
	Weight func(models.Campaign) float64
	// Float64 returns a value in [0,1). Nil uses math/rand/v2, which is safe
	// for concurrent use. Tests replace it for deterministic draws.
	Float64 func() float64
}

// NewWeightedRandom returns a uniform random tie-breaker.
func NewWeightedRandom() *WeightedRandom {
	return &WeightedRandom{}
}

// Break implements TieBreaker.
func (w *WeightedRandom) Break(ties []models.Campaign) models.Campaign {
	if len(ties) == 1 {
		return ties[0]
	}
	// Order by ID so a given random value always maps to the same campaign.
	ordered := make([]models.Campaign, len(ties))
	copy(ordered, ties)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	draw := rand.Float64
	if w.Float64 != nil {
		draw = w.Float64
	}

	weights := make([]float64, len(ordered))
	var total float64
	for i, c := range ordered {
		wt := 1.0
		if w.Weight != nil {
			wt = w.Weight(c)
		}
		if wt < 0 {
			wt = 0
		}
		weights[i] = wt
		total += wt
	}
	if total <= 0 {
		idx := int(draw() * float64(len(ordered)))
		if idx >= len(ordered) {
			idx = len(ordered) - 1
		}
		return ordered[idx]
	}

	r := draw() * total
	for i, wt := range weights {
		if r < wt {
			return ordered[i]
		}
		r -= wt
	}
	return ordered[len(ordered)-1]
}

// ParseTieBreaker maps a configuration value to a strategy: "id" (default)
// or "random".
func ParseTieBreaker(name string) (TieBreaker, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "id":
		return ByID{}, nil
	case "random":
		return NewWeightedRandom(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTieBreak, name)
	}
}
