package weekly

import (
	"fmt"
	"math"
	"sort"

	"ResearchDigest/internal/domain"
)

// BoostShape selects how appearance counts scale relevance.
type BoostShape string

const (
	BoostLinear BoostShape = "linear"
	BoostCapped BoostShape = "capped"
	BoostLog    BoostShape = "log"
)

// AppearanceBoost rewards items that kept showing up across the window.
type AppearanceBoost struct {
	Shape BoostShape
	Step  float64
	Cap   float64
}

// DefaultBoost adds 20% per extra appearance, without a ceiling.
var DefaultBoost = AppearanceBoost{Shape: BoostLinear, Step: 0.2, Cap: 2.0}

// Validate rejects boosts that would not be monotonically non-decreasing.
func (b AppearanceBoost) Validate() error {
	switch b.Shape {
	case BoostLinear, BoostLog:
	case BoostCapped:
		if b.Cap < 1 {
			return fmt.Errorf("boost cap must be >= 1, got %v", b.Cap)
		}
	default:
		return fmt.Errorf("unknown boost shape %q", b.Shape)
	}
	if b.Step < 0 || math.IsNaN(b.Step) || math.IsInf(b.Step, 0) {
		return fmt.Errorf("boost step must be a finite number >= 0, got %v", b.Step)
	}
	return nil
}

// Factor returns the multiplier for n appearances; n below 1 counts as 1.
func (b AppearanceBoost) Factor(n int) float64 {
	if n < 1 {
		n = 1
	}
	extra := float64(n - 1)
	switch b.Shape {
	case BoostCapped:
		return math.Min(1+b.Step*extra, b.Cap)
	case BoostLog:
		return 1 + b.Step*math.Log(float64(n))
	default:
		return 1 + b.Step*extra
	}
}

// Ranker orders reconstructed items for the weekly digest.
type Ranker struct {
	Boost        AppearanceBoost
	BreadthBonus float64
	TopN         int
}

// FinalScore combines relevance, appearance boost and category breadth.
func (r Ranker) FinalScore(item domain.ReconstructedItem, appearances int) float64 {
	breadth := len(item.Categories) - 1
	if breadth < 0 {
		breadth = 0
	}
	return item.Score*r.Boost.Factor(appearances) + r.BreadthBonus*float64(breadth)
}

// Rank scores every item and returns a total order: final score desc,
// appearances desc, unique id asc. The result is cut to TopN when set.
func (r Ranker) Rank(items []domain.ReconstructedItem, appearances map[string]int) []domain.RankedEntry {
	entries := make([]domain.RankedEntry, 0, len(items))
	for _, item := range items {
		count, ok := appearances[item.UniqueID]
		if !ok {
			count = item.Appearances
		}
		if count < 1 {
			count = 1
		}
		entries = append(entries, domain.RankedEntry{
			Item:        item,
			FinalScore:  r.FinalScore(item, count),
			Appearances: count,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Appearances != b.Appearances {
			return a.Appearances > b.Appearances
		}
		return a.Item.UniqueID < b.Item.UniqueID
	})

	if r.TopN > 0 && len(entries) > r.TopN {
		entries = entries[:r.TopN]
	}
	return entries
}
