package digest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ResearchDigest/internal/domain"
)

const (
	dailySummaryLimit  = 300
	weeklySummaryLimit = 200
	highlightCount     = 5
)

var sectionTitles = map[domain.Source]string{
	domain.SourceGitHub: "GitHub Updates",
	domain.SourceArxiv:  "arXiv Papers",
	domain.SourcePwC:    "Papers with Code",
}

// SectionTitle returns the heading used for a source section.
func SectionTitle(source domain.Source) string {
	if title, ok := sectionTitles[source]; ok {
		return title
	}
	return "Other"
}

// Renderer turns scored items and ranked entries into Markdown documents.
type Renderer struct {
	Heading string
}

// NewRenderer builds a renderer; heading defaults to "Research".
func NewRenderer(heading string) *Renderer {
	if strings.TrimSpace(heading) == "" {
		heading = "Research"
	}
	return &Renderer{Heading: heading}
}

// RenderDaily lays out one section per source in domain.Sources order.
func (r *Renderer) RenderDaily(at time.Time, sections map[domain.Source][]domain.Item) Document {
	date := at.UTC().Format("2006-01-02")
	total := 0
	for _, items := range sections {
		total += len(items)
	}

	var b strings.Builder
	b.WriteString(FormatDocumentMarker(DocumentMarker{Kind: domain.RunDaily, GeneratedAt: at}))
	b.WriteString("\n")
	fmt.Fprintf(&b, "# %s Daily Update - %s\n\n", r.Heading, date)

	counts := make([]string, 0, len(domain.Sources))
	for _, source := range domain.Sources {
		counts = append(counts, fmt.Sprintf("**%d** %s", len(sections[source]), SectionTitle(source)))
	}
	b.WriteString(strings.Join(counts, " | "))
	b.WriteString("\n\n---\n\n")

	for _, source := range orderedSources(sections) {
		items := sections[source]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%d)\n\n", SectionTitle(source), len(items))
		for i, item := range items {
			writeDailyItem(&b, i+1, item)
		}
		b.WriteString("---\n\n")
	}

	if total == 0 {
		b.WriteString("*No new items matching the configured keywords were found today.*\n")
	}

	return Document{
		ID:          "daily-" + date,
		Kind:        domain.RunDaily,
		Title:       fmt.Sprintf("%s Daily Update - %s (%d items)", r.Heading, date, total),
		Body:        b.String(),
		GeneratedAt: at.UTC(),
	}
}

func writeDailyItem(b *strings.Builder, n int, item domain.Item) {
	fmt.Fprintf(b, "### %d. [%s](%s)\n", n, EscapeTitle(item.Title), EscapeURL(item.URL))
	b.WriteString(FormatItemMarker(ItemMarker{
		Source:     item.Source,
		Key:        item.Key,
		Title:      item.Title,
		Score:      item.Score,
		Categories: item.Matches,
	}))
	b.WriteString("\n")

	line := fmt.Sprintf("**Relevance: %s** (score: %.2f)", Badge(item.Score), item.Score)
	if cats := item.Categories(); len(cats) > 0 {
		line += " | **Topics**: " + strings.Join(cats, ", ")
	}
	b.WriteString(line + "\n")

	if len(item.Extra) > 0 {
		extras := make([]string, 0, len(item.Extra))
		for _, e := range item.Extra {
			if e = collapse(e); e != "" {
				extras = append(extras, e)
			}
		}
		if len(extras) > 0 {
			b.WriteString(strings.Join(extras, " | ") + "\n")
		}
	}

	if summary := Truncate(collapse(item.Summary), dailySummaryLimit); summary != "" {
		b.WriteString("\n> " + summary + "\n")
	}
	b.WriteString("\n")
}

// RenderWeekly renders the ranked entries: overall highlights first, then
// per-source listings.
func (r *Renderer) RenderWeekly(generated, from, until time.Time, entries []domain.RankedEntry) Document {
	start := from.UTC().Format("2006-01-02")
	end := until.UTC().Format("2006-01-02")

	var b strings.Builder
	b.WriteString(FormatDocumentMarker(DocumentMarker{Kind: domain.RunWeekly, GeneratedAt: generated, From: from, Until: until}))
	b.WriteString("\n")
	fmt.Fprintf(&b, "# %s Weekly Summary\n", r.Heading)
	fmt.Fprintf(&b, "**Period**: %s to %s | **Highlights**: %d\n\n---\n\n", start, end, len(entries))

	if len(entries) == 0 {
		b.WriteString("*No items found for this period.*\n")
	} else {
		b.WriteString("## Top Highlights\n\n")
		for i, entry := range entries {
			if i == highlightCount {
				break
			}
			writeWeeklyItem(&b, i+1, entry)
		}
		b.WriteString("---\n\n")

		bySource := map[domain.Source][]domain.RankedEntry{}
		var order []domain.Source
		for _, entry := range entries {
			if _, ok := bySource[entry.Item.Source]; !ok {
				order = append(order, entry.Item.Source)
			}
			bySource[entry.Item.Source] = append(bySource[entry.Item.Source], entry)
		}
		for _, source := range orderedRankedSources(order) {
			list := bySource[source]
			fmt.Fprintf(&b, "## %s (%d)\n\n", SectionTitle(source), len(list))
			for i, entry := range list {
				writeWeeklyItem(&b, i+1, entry)
			}
			b.WriteString("---\n\n")
		}
	}

	return Document{
		ID:          "weekly-" + end,
		Kind:        domain.RunWeekly,
		Title:       fmt.Sprintf("%s Weekly Summary - %s to %s (%d highlights)", r.Heading, start, end, len(entries)),
		Body:        b.String(),
		GeneratedAt: generated.UTC(),
	}
}

func writeWeeklyItem(b *strings.Builder, n int, entry domain.RankedEntry) {
	item := entry.Item
	fmt.Fprintf(b, "**%d. [%s](%s)** | Score: %.1f", n, EscapeTitle(item.Title), EscapeURL(item.URL), entry.FinalScore)
	if entry.Appearances > 1 {
		fmt.Fprintf(b, " (appeared %dx)", entry.Appearances)
	}
	b.WriteString("\n")

	marker := ItemMarker{
		Source:      item.Source,
		Title:       item.Title,
		Score:       item.Score,
		Categories:  item.Categories,
		FinalScore:  entry.FinalScore,
		Appearances: entry.Appearances,
	}
	// Fallback identities have no source key; the digest itself stays usable.
	if key, ok := strings.CutPrefix(item.UniqueID, string(item.Source)+":"); ok && item.Identity != domain.IdentityFallback {
		marker.Key = key
		b.WriteString(FormatItemMarker(marker) + "\n")
	}

	if cats := item.CategoryNames(); len(cats) > 0 {
		b.WriteString("Topics: " + strings.Join(cats, ", ") + "\n")
	}
	if summary := Truncate(collapse(item.Summary), weeklySummaryLimit); summary != "" {
		b.WriteString("> " + summary + "\n")
	}
	b.WriteString("\n")
}

// Badge maps a relevance score onto a coarse label.
func Badge(score float64) string {
	switch {
	case score >= 4.0:
		return "HIGH"
	case score >= 2.0:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Truncate shortens s to at most limit runes, appending an ellipsis.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}

func orderedSources(sections map[domain.Source][]domain.Item) []domain.Source {
	known := map[domain.Source]bool{}
	order := make([]domain.Source, 0, len(sections))
	for _, s := range domain.Sources {
		known[s] = true
		order = append(order, s)
	}
	for _, s := range sortedKeys(sections) {
		if !known[s] {
			order = append(order, s)
		}
	}
	return order
}

func orderedRankedSources(present []domain.Source) []domain.Source {
	seen := map[domain.Source]bool{}
	for _, s := range present {
		seen[s] = true
	}
	order := make([]domain.Source, 0, len(present))
	for _, s := range domain.Sources {
		if seen[s] {
			order = append(order, s)
			delete(seen, s)
		}
	}
	for _, s := range present {
		if seen[s] {
			order = append(order, s)
		}
	}
	return order
}
