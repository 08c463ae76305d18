package digest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ResearchDigest/internal/domain"
)

// GrammarVersion is bumped whenever the rendered layout changes in a way
// the parser has to learn about.
const GrammarVersion = 1

const (
	documentMarkerName = "researchdigest"
	itemMarkerName     = "item"
)

var (
	documentMarkerExpr = regexp.MustCompile(`^<!--\s*researchdigest:v(\d+)\s*(.*?)\s*-->$`)
	itemMarkerExpr     = regexp.MustCompile(`^<!--\s*item:v(\d+)\s+(\S*)\s*-->$`)
)

// DocumentMarker is the first line of every rendered document.
type DocumentMarker struct {
	Version     int
	Kind        domain.RunKind
	GeneratedAt time.Time
	From        time.Time
	Until       time.Time
}

// FormatDocumentMarker renders m as an HTML comment invisible to readers.
func FormatDocumentMarker(m DocumentMarker) string {
	parts := []string{
		fmt.Sprintf("<!-- %s:v%d", documentMarkerName, GrammarVersion),
		"kind=" + string(m.Kind),
		"generated=" + m.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if !m.From.IsZero() {
		parts = append(parts, "from="+m.From.UTC().Format(time.RFC3339))
	}
	if !m.Until.IsZero() {
		parts = append(parts, "until="+m.Until.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, " ") + " -->"
}

// ParseDocumentMarker reads a document marker line. ok is false when the
// line is not a document marker at all.
func ParseDocumentMarker(line string) (m DocumentMarker, ok bool, err error) {
	match := documentMarkerExpr.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return DocumentMarker{}, false, nil
	}

	m.Version, err = strconv.Atoi(match[1])
	if err != nil {
		return m, true, fmt.Errorf("marker version %q: %w", match[1], err)
	}
	if m.Version > GrammarVersion {
		return m, true, fmt.Errorf("marker version %d is newer than supported %d", m.Version, GrammarVersion)
	}

	for _, field := range strings.Fields(match[2]) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return m, true, fmt.Errorf("marker field %q has no value", field)
		}
		switch key {
		case "kind":
			m.Kind = domain.RunKind(value)
		case "generated", "from", "until":
			ts, perr := time.Parse(time.RFC3339, value)
			if perr != nil {
				return m, true, fmt.Errorf("marker field %s: %w", key, perr)
			}
			switch key {
			case "generated":
				m.GeneratedAt = ts
			case "from":
				m.From = ts
			default:
				m.Until = ts
			}
		}
	}

	if m.GeneratedAt.IsZero() {
		return m, true, fmt.Errorf("marker without generated timestamp")
	}
	return m, true, nil
}

// ItemMarker carries the machine-readable facts of one rendered item.
type ItemMarker struct {
	Source      domain.Source
	Key         string
	Score       float64
	Categories  map[string]int
	FinalScore  float64
	Appearances int

	// Title is the exact title; the heading shows it with whitespace collapsed.
	Title string
}

// FormatItemMarker encodes m with query escaping so any key or category
// name survives the round trip.
func FormatItemMarker(m ItemMarker) string {
	values := url.Values{}
	values.Set("source", string(m.Source))
	values.Set("key", m.Key)
	if m.Title != "" {
		values.Set("title", m.Title)
	}
	values.Set("score", strconv.FormatFloat(m.Score, 'g', -1, 64))
	for _, name := range domain.SortedCategories(m.Categories) {
		values.Add("cat", name+":"+strconv.Itoa(m.Categories[name]))
	}
	if m.Appearances > 0 {
		values.Set("final", strconv.FormatFloat(m.FinalScore, 'g', -1, 64))
		values.Set("seen", strconv.Itoa(m.Appearances))
	}
	return fmt.Sprintf("<!-- %s:v%d %s -->", itemMarkerName, GrammarVersion, values.Encode())
}

// ParseItemMarker decodes an item marker line. ok is false when the line is
// not an item marker.
func ParseItemMarker(line string) (m ItemMarker, ok bool, err error) {
	match := itemMarkerExpr.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return ItemMarker{}, false, nil
	}
	if v, _ := strconv.Atoi(match[1]); v < 1 || v > GrammarVersion {
		return m, true, fmt.Errorf("unsupported item marker version %s", match[1])
	}

	values, err := url.ParseQuery(match[2])
	if err != nil {
		return m, true, fmt.Errorf("item marker: %w", err)
	}

	source, known := domain.ParseSource(values.Get("source"))
	if !known {
		return m, true, fmt.Errorf("item marker: unknown source %q", values.Get("source"))
	}
	m.Source = source

	m.Key = values.Get("key")
	if strings.TrimSpace(m.Key) == "" {
		return m, true, fmt.Errorf("item marker: empty key")
	}

	m.Title = values.Get("title")

	m.Score, err = parseScore(values.Get("score"))
	if err != nil {
		return m, true, fmt.Errorf("item marker: %w", err)
	}

	m.Categories = map[string]int{}
	for _, raw := range values["cat"] {
		idx := strings.LastIndex(raw, ":")
		if idx <= 0 {
			return m, true, fmt.Errorf("item marker: category %q without count", raw)
		}
		count, cerr := strconv.Atoi(raw[idx+1:])
		if cerr != nil || count < 0 {
			return m, true, fmt.Errorf("item marker: category %q has invalid count", raw)
		}
		m.Categories[raw[:idx]] = count
	}

	if seen := values.Get("seen"); seen != "" {
		m.Appearances, err = strconv.Atoi(seen)
		if err != nil || m.Appearances < 1 {
			return m, true, fmt.Errorf("item marker: invalid seen count %q", seen)
		}
		m.FinalScore, err = parseScore(values.Get("final"))
		if err != nil {
			return m, true, fmt.Errorf("item marker: final %w", err)
		}
	} else if values.Get("final") != "" {
		return m, true, fmt.Errorf("item marker: final score without seen count")
	}
	return m, true, nil
}

func parseScore(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing score")
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("score %q: %w", raw, err)
	}
	if score < 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("score %q out of range", raw)
	}
	return score, nil
}

var (
	titleEscaper   = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)
	urlEscaper     = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, " ", "%20")
	whitespaceExpr = regexp.MustCompile(`\s+`)
)

// EscapeTitle prepares link text; whitespace runs collapse to one space.
func EscapeTitle(title string) string {
	return titleEscaper.Replace(collapse(title))
}

// EscapeURL prepares a link destination.
func EscapeURL(u string) string {
	return urlEscaper.Replace(strings.TrimSpace(u))
}

// Unescape reverses EscapeTitle and EscapeURL backslash escapes.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceExpr.ReplaceAllString(s, " "))
}

// sortedKeys is used by renderers that need deterministic map iteration.
func sortedKeys(m map[domain.Source][]domain.Item) []domain.Source {
	keys := make([]domain.Source, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
