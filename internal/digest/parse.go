package digest

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ResearchDigest/internal/domain"
)

var (
	itemHeadingExpr  = regexp.MustCompile(`^(?:#{2,3}\s*\d+\.\s*|\*\*\d+\.\s*)\[((?:\\.|[^\\\]])*)\]\(((?:\\.|[^\\)])*)\)`)
	numberedExpr     = regexp.MustCompile(`^(?:#{2,3}\s*\d+\.|\*\*\d+\.)`)
	sectionExpr      = regexp.MustCompile(`^##\s+([^#].*?)\s*(?:\(\d+\))?\s*$`)
	legacyDateExpr   = regexp.MustCompile(`(Daily Update|Weekly Summary)\s*-\s*(\d{4}-\d{2}-\d{2})`)
	legacyScoreExpr  = regexp.MustCompile(`score:\s*([0-9][0-9.]*)`)
	legacyTopicsExpr = regexp.MustCompile(`Topics?(?:\*\*)?:\s*(?:\*\*)?\s*([^|]+)`)
	quoteExpr        = regexp.MustCompile(`^>\s*(.+)`)
)

// Block is one item recovered from a document, before identity resolution.
type Block struct {
	Line       int
	Section    domain.Source
	Title      string
	URL        string
	Marker     *ItemMarker
	Score      float64
	Categories map[string]int
	Summary    string
}

// Parsed is the structural reading of a document.
type Parsed struct {
	DocumentID  string
	Version     int
	Kind        domain.RunKind
	Timestamp   time.Time
	Blocks      []Block
	Diagnostics []domain.Diagnostic
}

type pendingBlock struct {
	line    int
	section domain.Source
	title   string
	url     string
	lines   []string
	broken  string
}

// Parse splits a document into item blocks. Malformed blocks are skipped
// and reported; Parse itself never fails.
func Parse(doc Document) Parsed {
	out := Parsed{DocumentID: doc.ID, Kind: doc.Kind}
	lines := strings.Split(strings.ReplaceAll(doc.Body, "\r\n", "\n"), "\n")

	resolveHeader(doc, lines, &out)

	var (
		section domain.Source
		current *pendingBlock
	)
	flush := func() {
		if current == nil {
			return
		}
		if block, reason := current.finish(); reason != "" {
			out.Diagnostics = append(out.Diagnostics, domain.Diagnostic{
				Kind:       domain.DiagnosticParseSkip,
				DocumentID: doc.ID,
				Line:       current.line,
				Reason:     reason,
			})
		} else {
			out.Blocks = append(out.Blocks, block)
		}
		current = nil
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if m := itemHeadingExpr.FindStringSubmatch(line); m != nil {
			flush()
			current = &pendingBlock{
				line:    i + 1,
				section: section,
				title:   Unescape(m[1]),
				url:     Unescape(m[2]),
				lines:   []string{line[len(m[0]):]},
			}
			continue
		}

		if numberedExpr.MatchString(line) {
			flush()
			current = &pendingBlock{line: i + 1, section: section, broken: "item heading without [title](url) link"}
			continue
		}

		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			flush()
			if m := sectionExpr.FindStringSubmatch(line); m != nil {
				section = sectionSource(m[1])
			}
			continue
		}

		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	flush()

	return out
}

// Header resolves a document's kind and timestamp without reading its items.
func Header(doc Document) (domain.RunKind, time.Time) {
	var out Parsed
	out.Kind = doc.Kind
	resolveHeader(doc, strings.Split(strings.ReplaceAll(doc.Body, "\r\n", "\n"), "\n"), &out)
	return out.Kind, out.Timestamp
}

func resolveHeader(doc Document, lines []string, out *Parsed) {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		marker, ok, err := ParseDocumentMarker(line)
		if ok && err == nil {
			out.Version = marker.Version
			out.Kind = marker.Kind
			out.Timestamp = marker.GeneratedAt
			return
		}
		if ok {
			out.Diagnostics = append(out.Diagnostics, domain.Diagnostic{
				Kind:       domain.DiagnosticDocumentSkip,
				DocumentID: doc.ID,
				Line:       1,
				Reason:     "unreadable document marker: " + err.Error(),
			})
		}
		break
	}

	for _, line := range lines {
		m := legacyDateExpr.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == "Weekly Summary" {
			out.Kind = domain.RunWeekly
		} else {
			out.Kind = domain.RunDaily
		}
		if day, err := time.Parse("2006-01-02", m[2]); err == nil {
			out.Timestamp = day
		}
		break
	}

	if out.Timestamp.IsZero() {
		out.Timestamp = doc.GeneratedAt
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = doc.CreatedAt
	}
	if out.Kind == "" {
		out.Kind = domain.RunDaily
	}
}

func (p *pendingBlock) finish() (Block, string) {
	if p.broken != "" {
		return Block{}, p.broken
	}

	block := Block{
		Line:       p.line,
		Section:    p.section,
		Title:      strings.TrimSpace(p.title),
		URL:        strings.TrimSpace(p.url),
		Categories: map[string]int{},
	}
	if block.Title == "" {
		return Block{}, "empty title"
	}
	if u, err := url.Parse(block.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Block{}, fmt.Sprintf("invalid url %q", block.URL)
	}

	var (
		legacyScore string
		legacyCats  string
	)
	for _, line := range p.lines {
		if marker, ok, err := ParseItemMarker(line); ok {
			if err != nil {
				return Block{}, err.Error()
			}
			if block.Marker != nil {
				return Block{}, "more than one item marker"
			}
			m := marker
			block.Marker = &m
			continue
		}
		if block.Summary == "" {
			if m := quoteExpr.FindStringSubmatch(line); m != nil {
				block.Summary = strings.TrimSpace(m[1])
				continue
			}
		}
		if legacyScore == "" {
			if m := legacyScoreExpr.FindStringSubmatch(line); m != nil {
				legacyScore = strings.TrimRight(m[1], ".")
			}
		}
		if legacyCats == "" {
			if m := legacyTopicsExpr.FindStringSubmatch(line); m != nil {
				legacyCats = m[1]
			}
		}
	}

	if block.Marker != nil {
		if block.Marker.Title != "" {
			block.Title = block.Marker.Title
		}
		block.Score = block.Marker.Score
		for name, count := range block.Marker.Categories {
			block.Categories[name] = count
		}
		return block, ""
	}

	if legacyScore == "" {
		return Block{}, "missing score"
	}
	score, err := strconv.ParseFloat(legacyScore, 64)
	if err != nil {
		return Block{}, fmt.Sprintf("invalid score %q", legacyScore)
	}
	block.Score = score
	for _, name := range strings.Split(legacyCats, ",") {
		if name = strings.TrimSpace(name); name != "" && name != "general" {
			block.Categories[name] = 0
		}
	}
	return block, ""
}

func sectionSource(title string) domain.Source {
	lower := strings.ToLower(title)
	for source, heading := range sectionTitles {
		if strings.HasPrefix(lower, strings.ToLower(heading)) {
			return source
		}
	}
	return ""
}
