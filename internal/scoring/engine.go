// Package scoring computes keyword relevance of collected items.
package scoring

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"ResearchDigest/internal/domain"
)

type compiledTerm struct {
	term    string
	pattern *regexp.Regexp
}

type compiledCategory struct {
	name   string
	weight float64
	terms  []compiledTerm
}

// Engine scores text against an immutable set of weighted categories.
type Engine struct {
	categories []compiledCategory
}

// Result is the outcome of scoring one text.
type Result struct {
	Total     float64
	Matches   map[string]int
	SubScores map[string]float64
}

// New validates the categories and compiles one word-boundary pattern per term.
func New(categories []domain.CategoryDefinition) (*Engine, error) {
	if err := Validate(categories); err != nil {
		return nil, err
	}

	compiled := make([]compiledCategory, 0, len(categories))
	for _, cat := range categories {
		cc := compiledCategory{name: cat.Name, weight: cat.Weight}
		seen := map[string]struct{}{}
		for _, term := range cat.Terms {
			norm := strings.ToLower(strings.TrimSpace(term))
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			cc.terms = append(cc.terms, compiledTerm{
				term:    strings.TrimSpace(term),
				pattern: termPattern(term),
			})
		}
		compiled = append(compiled, cc)
	}

	return &Engine{categories: compiled}, nil
}

// Go's \b only knows ASCII word characters, so the boundary is spelled out
// with Unicode letter and digit classes.
const (
	leftBoundary  = `(?:^|[^\p{L}\p{N}_])`
	rightBoundary = `(?:$|[^\p{L}\p{N}_])`
)

func termPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + leftBoundary + regexp.QuoteMeta(strings.TrimSpace(term)) + rightBoundary)
}

// Validate rejects category sets that cannot be scored reliably.
func Validate(categories []domain.CategoryDefinition) error {
	names := map[string]struct{}{}
	for i, cat := range categories {
		field := "categories[" + cat.Name + "]"
		if strings.TrimSpace(cat.Name) == "" {
			return domain.NewConfigurationError("categories", "entry %d has an empty name", i)
		}
		if _, dup := names[cat.Name]; dup {
			return domain.NewConfigurationError(field, "duplicate category name")
		}
		names[cat.Name] = struct{}{}
		if math.IsNaN(cat.Weight) || math.IsInf(cat.Weight, 0) || cat.Weight < 0 {
			return domain.NewConfigurationError(field, "weight must be a finite number >= 0, got %v", cat.Weight)
		}
		if len(cat.Terms) == 0 {
			return domain.NewConfigurationError(field, "term list is empty")
		}
		for j, term := range cat.Terms {
			if strings.TrimSpace(term) == "" {
				return domain.NewConfigurationError(field, "term %d is empty", j)
			}
		}
	}
	return nil
}

// Score counts distinct matching terms per category and sums the damped,
// weighted sub-scores. Categories are visited in configuration order.
func (e *Engine) Score(text string) Result {
	res := Result{Matches: map[string]int{}, SubScores: map[string]float64{}}
	if strings.TrimSpace(text) == "" {
		return res
	}

	for _, cat := range e.categories {
		count := 0
		for _, t := range cat.terms {
			if t.pattern.MatchString(text) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		sub := math.Sqrt(float64(count)) * cat.weight
		res.Matches[cat.name] = count
		res.SubScores[cat.name] = sub
		res.Total += sub
	}

	return res
}

// Explain returns the terms that matched, grouped by category.
func (e *Engine) Explain(text string) map[string][]string {
	out := map[string][]string{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, cat := range e.categories {
		for _, t := range cat.terms {
			if t.pattern.MatchString(text) {
				out[cat.name] = append(out[cat.name], t.term)
			}
		}
	}
	return out
}

// Filter scores every item, keeps those reaching threshold and returns them
// ordered by score descending, then unique id.
func (e *Engine) Filter(items []domain.Item, threshold float64) []domain.Item {
	kept := make([]domain.Item, 0, len(items))
	for _, item := range items {
		res := e.Score(item.RawText)
		if res.Total < threshold {
			continue
		}
		item.Score = res.Total
		item.Matches = res.Matches
		kept = append(kept, item)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].UniqueID() < kept[j].UniqueID()
	})
	return kept
}
