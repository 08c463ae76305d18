package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

// DefaultRequestInterval keeps scrapers within arXiv's crawling guidance.
const DefaultRequestInterval = 3 * time.Second

const (
	arxivBaseURL    = "https://arxiv.org"
	userAgent       = "ResearchDigest/1.0"
	maxListedAuthor = 3
)

var (
	dateExpr  = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)
	spaceExpr = regexp.MustCompile(`\s+`)
)

// ArxivScanner crawls category listing pages and extracts papers for the
// requested day. Option lookback_days widens the window backwards.
type ArxivScanner struct {
	client   *http.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

// NewArxivScanner wires an HTTP client; pageSize defaults to 200 and page
// requests are spaced by DefaultRequestInterval.
func NewArxivScanner(client *http.Client, logger *slog.Logger) *ArxivScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ArxivScanner{
		client:   client,
		limiter:  newLimiter(DefaultRequestInterval),
		pageSize: 200,
		logger:   logger,
	}
}

// WithRequestInterval changes the minimum gap between page requests.
// Zero or negative disables throttling.
func (a *ArxivScanner) WithRequestInterval(d time.Duration) *ArxivScanner {
	a.limiter = newLimiter(d)
	return a
}

// Name identifies the strategy inside the registry.
func (a *ArxivScanner) Name() string {
	return "arxiv"
}

// Scan walks through each category URL and returns papers dated within the window.
// A paper listed under several categories is returned once.
func (a *ArxivScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for site %s", req.SiteName)
	}
	lookback, err := req.IntOption("lookback_days", 1)
	if err != nil {
		return nil, err
	}
	if lookback < 1 {
		lookback = 1
	}

	lastDay := req.Day.UTC().Truncate(24 * time.Hour)
	firstDay := lastDay.AddDate(0, 0, -(lookback - 1))
	results := make([]domain.Item, 0)
	seen := map[string]struct{}{}

	for _, cat := range req.Categories {
		skip := 0
		for {
			pageURL, err := buildPageURL(cat.URL, skip, a.pageSize)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			doc, err := fetchDocument(ctx, a.client, a.limiter, pageURL)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			pageItems, shouldContinue := a.extractItems(doc, firstDay, lastDay)
			for _, item := range pageItems {
				if _, ok := seen[item.Key]; ok {
					continue
				}
				seen[item.Key] = struct{}{}
				results = append(results, item)
			}
			a.debug("arxiv page scanned", "category", cat.Name, "skip", skip, "matched", len(pageItems))

			if !shouldContinue {
				break
			}
			skip += a.pageSize
		}
	}

	return results, nil
}

func fetchDocument(ctx context.Context, client *http.Client, limiter *rate.Limiter, pageURL string) (*goquery.Document, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for request slot: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", req.URL.Host, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// extractItems reports whether the next page may still hold papers in the window.
func (a *ArxivScanner) extractItems(doc *goquery.Document, firstDay, lastDay time.Time) ([]domain.Item, bool) {
	var (
		collected    []domain.Item
		continueScan = true
		processed    int
	)

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		item, err := parseEntry(dt, dd)
		if err != nil {
			a.debug("skip arxiv entry", "index", i, "error", err)
			return true
		}

		itemDay := item.PublishedAt.UTC().Truncate(24 * time.Hour)
		if itemDay.Before(firstDay) {
			continueScan = false
			return false
		}
		if !itemDay.After(lastDay) {
			collected = append(collected, item)
		}

		return true
	})

	if processed < a.pageSize {
		continueScan = false
	}

	return collected, continueScan
}

func parseEntry(dt, dd *goquery.Selection) (domain.Item, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, _ := link.Attr("href")

	id := strings.TrimSpace(link.Text())
	id = strings.TrimPrefix(id, "arXiv:")
	if id == "" {
		_, id, _ = strings.Cut(href, "/abs/")
	}
	id = strings.Trim(id, "/ ")
	if id == "" {
		return domain.Item{}, fmt.Errorf("entry without arxiv id")
	}

	title := cleanText(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	if title == "" {
		return domain.Item{}, fmt.Errorf("entry %s without title", id)
	}

	abstract := cleanText(dd.Find("p.mathjax").First().Text())
	abstract = strings.TrimSpace(strings.TrimPrefix(abstract, "Abstract:"))

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	publishedAt := time.Now().UTC()
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	var extra []string
	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, s *goquery.Selection) {
		if name := cleanText(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) > 0 {
		line := "**Authors**: " + strings.Join(authors[:min(len(authors), maxListedAuthor)], ", ")
		if len(authors) > maxListedAuthor {
			line += " et al."
		}
		extra = append(extra, line)
	}
	if subjects := cleanText(dd.Find(".list-subjects").First().Text()); subjects != "" {
		extra = append(extra, "**Categories**: "+strings.TrimSpace(strings.TrimPrefix(subjects, "Subjects:")))
	}
	extra = append(extra, fmt.Sprintf("[PDF](%s/pdf/%s)", arxivBaseURL, id))

	return domain.Item{
		Source:      domain.SourceArxiv,
		Key:         id,
		Title:       title,
		URL:         fmt.Sprintf("%s/abs/%s", arxivBaseURL, id),
		PublishedAt: publishedAt,
		RawText:     title + "\n" + abstract,
		Summary:     abstract,
		Extra:       extra,
	}, nil
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid category url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (a *ArxivScanner) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
