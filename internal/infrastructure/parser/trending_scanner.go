package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

const (
	githubBaseURL   = "https://github.com"
	defaultMinStars = 50
)

// TrendingScanner scrapes GitHub trending pages. Each configured category is
// one trending URL (usually per language); option min_stars drops small repos.
type TrendingScanner struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTrendingScanner wires an HTTP client with a default timeout.
func NewTrendingScanner(client *http.Client, logger *slog.Logger) *TrendingScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TrendingScanner{client: client, limiter: newLimiter(DefaultRequestInterval), logger: logger}
}

// WithRequestInterval changes the minimum gap between page requests.
func (t *TrendingScanner) WithRequestInterval(d time.Duration) *TrendingScanner {
	t.limiter = newLimiter(d)
	return t
}

// Name identifies the strategy inside the registry.
func (t *TrendingScanner) Name() string {
	return "github-trending"
}

// Scan collects trending repositories; the page has no dates so req.Day only
// stamps PublishedAt.
func (t *TrendingScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for site %s", req.SiteName)
	}
	minStars, err := req.IntOption("min_stars", defaultMinStars)
	if err != nil {
		return nil, err
	}

	var results []domain.Item
	seen := map[string]struct{}{}
	for _, cat := range req.Categories {
		doc, err := fetchDocument(ctx, t.client, t.limiter, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}

		doc.Find("article.Box-row").Each(func(_ int, row *goquery.Selection) {
			item, stars, ok := parseTrendingRow(row, cat.Name, req.Day)
			if !ok || stars < minStars {
				return
			}
			if _, dup := seen[item.Key]; dup {
				return
			}
			seen[item.Key] = struct{}{}
			results = append(results, item)
		})
		t.debug("trending page scanned", "category", cat.Name, "total", len(results))
	}
	return results, nil
}

func parseTrendingRow(row *goquery.Selection, fallbackLang string, day time.Time) (domain.Item, int, bool) {
	href, _ := row.Find("h2 a").First().Attr("href")
	repo := strings.Trim(strings.TrimSpace(href), "/")
	if repo == "" || strings.Count(repo, "/") != 1 {
		return domain.Item{}, 0, false
	}

	description := cleanText(row.Find("p").First().Text())
	stars := parseCount(row.Find("a.Link--muted").First().Text())
	today := 0
	if fields := strings.Fields(row.Find("span.d-inline-block.float-sm-right").First().Text()); len(fields) > 0 {
		today = parseCount(fields[0])
	}

	lang := cleanText(row.Find("span[itemprop='programmingLanguage']").First().Text())
	if lang == "" {
		lang = fallbackLang
	}

	extra := []string{fmt.Sprintf("Stars: %d (+%d today)", stars, today)}
	if lang != "" {
		extra = append(extra, "Language: "+lang)
	}

	return domain.Item{
		Source:      domain.SourceGitHub,
		Key:         "trending:" + repo,
		Title:       repo,
		URL:         githubBaseURL + "/" + repo,
		PublishedAt: day.UTC(),
		RawText:     repo + "\n" + description,
		Summary:     description,
		Extra:       extra,
	}, stars, true
}

func parseCount(text string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(text), ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func (t *TrendingScanner) debug(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}
