// Package weekly rebuilds items from past daily documents and ranks them
// for the weekly digest.
package weekly

import (
	"fmt"
	"log/slog"
	"time"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
)

// Aggregation is the merged view of every daily document in a window.
type Aggregation struct {
	Items       []domain.ReconstructedItem
	Appearances map[string]int
	Diagnostics []domain.Diagnostic
	Documents   int
}

// Aggregator parses daily documents and merges their items by unique id.
type Aggregator struct {
	fallback FallbackIdentity
	logger   *slog.Logger
}

// NewAggregator builds an aggregator using the given fallback identity rule.
func NewAggregator(fallback FallbackIdentity, logger *slog.Logger) *Aggregator {
	if fallback == "" {
		fallback = FallbackTitleURL
	}
	return &Aggregator{fallback: fallback, logger: logger}
}

// Aggregate reads every daily document stamped within [start, end). A block
// or document that cannot be read is reported in Diagnostics and skipped.
func (a *Aggregator) Aggregate(docs []digest.Document, start, end time.Time) Aggregation {
	out := Aggregation{Appearances: map[string]int{}}
	index := map[string]int{}
	lastDoc := map[string]int{}

	for docIdx, doc := range docs {
		parsed := digest.Parse(doc)

		if parsed.Timestamp.IsZero() {
			out.Diagnostics = append(out.Diagnostics, parsed.Diagnostics...)
			out.Diagnostics = append(out.Diagnostics, domain.Diagnostic{
				Kind:       domain.DiagnosticDocumentSkip,
				DocumentID: doc.ID,
				Reason:     "document carries no timestamp",
			})
			continue
		}
		if parsed.Kind != domain.RunDaily {
			a.debug("skip non-daily document", "document", doc.ID, "kind", parsed.Kind)
			continue
		}
		if parsed.Timestamp.Before(start) || !parsed.Timestamp.Before(end) {
			continue
		}

		out.Documents++
		out.Diagnostics = append(out.Diagnostics, parsed.Diagnostics...)

		for _, block := range parsed.Blocks {
			id, source, confidence := resolveIdentity(block, a.fallback)
			if confidence == domain.IdentityFallback {
				out.Diagnostics = append(out.Diagnostics, domain.Diagnostic{
					Kind:       domain.DiagnosticIdentityFallback,
					DocumentID: doc.ID,
					Line:       block.Line,
					Reason:     fmt.Sprintf("no source key for %q, using %s identity %s", block.Title, a.fallback, id),
				})
			}

			pos, exists := index[id]
			if !exists {
				index[id] = len(out.Items)
				lastDoc[id] = docIdx
				out.Appearances[id] = 1
				out.Items = append(out.Items, domain.ReconstructedItem{
					UniqueID:    id,
					Source:      source,
					Title:       block.Title,
					URL:         block.URL,
					Summary:     block.Summary,
					Score:       block.Score,
					Categories:  copyCategories(block.Categories),
					Identity:    confidence,
					Appearances: 1,
					FirstSeen:   parsed.Timestamp,
					LastSeen:    parsed.Timestamp,
				})
				continue
			}

			item := &out.Items[pos]
			if lastDoc[id] != docIdx {
				lastDoc[id] = docIdx
				out.Appearances[id]++
				item.Appearances++
			}
			mergeInto(item, block, confidence, parsed.Timestamp)
		}
	}

	if a.logger != nil {
		a.logger.Info("aggregated daily documents",
			"documents", out.Documents,
			"items", len(out.Items),
			"diagnostics", len(out.Diagnostics))
	}
	return out
}

func mergeInto(item *domain.ReconstructedItem, block digest.Block, confidence domain.IdentityConfidence, at time.Time) {
	if block.Score > item.Score {
		item.Score = block.Score
	}
	for name, count := range block.Categories {
		if prev, ok := item.Categories[name]; !ok || count > prev {
			item.Categories[name] = count
		}
	}
	if item.Summary == "" {
		item.Summary = block.Summary
	}
	if item.Source == "" {
		item.Source = block.Section
	}
	if rank(confidence) > rank(item.Identity) {
		item.Identity = confidence
	}
	if at.Before(item.FirstSeen) {
		item.FirstSeen = at
	}
	if at.After(item.LastSeen) {
		item.LastSeen = at
	}
}

func rank(c domain.IdentityConfidence) int {
	switch c {
	case domain.IdentityExact:
		return 2
	case domain.IdentityDerived:
		return 1
	default:
		return 0
	}
}

func copyCategories(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (a *Aggregator) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
