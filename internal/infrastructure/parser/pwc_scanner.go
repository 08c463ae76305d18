package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

const (
	pwcAPIBase   = "https://paperswithcode.com/api/v1"
	pwcPaperBase = "https://paperswithcode.com/paper/"
)

type pwcPaperPage struct {
	Results []pwcPaper `json:"results"`
}

type pwcPaper struct {
	ID        string   `json:"id"`
	ArxivID   string   `json:"arxiv_id"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	Authors   []string `json:"authors"`
	URLAbs    string   `json:"url_abs"`
	URLPDF    string   `json:"url_pdf"`
	Published string   `json:"published"`
}

type pwcRepositoryPage struct {
	Results []pwcRepository `json:"results"`
}

type pwcRepository struct {
	URL   string `json:"url"`
	Stars int    `json:"stars"`
}

// PwcScanner reads the newest papers from the Papers with Code API.
// Option max_results (default 50) sets the page size. The code repository
// with the most stars is attached when the lookup succeeds.
type PwcScanner struct {
	client  *http.Client
	limiter *rate.Limiter
	apiBase string
	logger  *slog.Logger
}

// NewPwcScanner wires an HTTP client for the Papers with Code API.
func NewPwcScanner(client *http.Client, logger *slog.Logger) *PwcScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PwcScanner{
		client:  client,
		limiter: newLimiter(DefaultRequestInterval),
		apiBase: pwcAPIBase,
		logger:  logger,
	}
}

// WithRequestInterval changes the minimum gap between API requests.
func (p *PwcScanner) WithRequestInterval(d time.Duration) *PwcScanner {
	p.limiter = newLimiter(d)
	return p
}

// WithAPIBase points the scanner at another API root.
func (p *PwcScanner) WithAPIBase(base string) *PwcScanner {
	p.apiBase = strings.TrimRight(base, "/")
	return p
}

// Name identifies the strategy inside the registry.
func (p *PwcScanner) Name() string {
	return "pwc"
}

// Scan fetches one page of papers ordered by publication date.
func (p *PwcScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	maxResults, err := req.IntOption("max_results", 50)
	if err != nil {
		return nil, err
	}
	if maxResults < 1 {
		maxResults = 1
	}

	query := url.Values{}
	query.Set("ordering", "-published")
	query.Set("items_per_page", strconv.Itoa(maxResults))

	var page pwcPaperPage
	if err := fetchJSON(ctx, p.client, p.limiter, p.apiBase+"/papers/?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(page.Results))
	for _, paper := range page.Results {
		title := cleanText(paper.Title)
		if paper.ID == "" || title == "" {
			continue
		}

		extra := paperExtra(paper)
		if repo, ok := p.topRepository(ctx, paper.ID); ok {
			extra = append(extra, fmt.Sprintf("Code: %s (%d stars)", repo.URL, repo.Stars))
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		abstract := cleanText(paper.Abstract)
		items = append(items, domain.Item{
			Source:      domain.SourcePwC,
			Key:         paper.ID,
			Title:       title,
			URL:         pwcPaperBase + url.PathEscape(paper.ID),
			PublishedAt: parsePublished(paper.Published, req.Day),
			RawText:     title + "\n" + abstract,
			Summary:     abstract,
			Extra:       extra,
		})
	}

	p.debug("pwc scanned", "site", req.SiteName, "papers", len(page.Results), "items", len(items))
	return items, nil
}

// topRepository is best effort; a failed lookup only drops the code link.
func (p *PwcScanner) topRepository(ctx context.Context, id string) (pwcRepository, bool) {
	var page pwcRepositoryPage
	path := fmt.Sprintf("%s/papers/%s/repositories/", p.apiBase, url.PathEscape(id))
	if err := fetchJSON(ctx, p.client, p.limiter, path, nil, &page); err != nil {
		p.debug("repository lookup failed", "paper", id, "error", err)
		return pwcRepository{}, false
	}

	var best pwcRepository
	for _, repo := range page.Results {
		if repo.URL != "" && (best.URL == "" || repo.Stars > best.Stars) {
			best = repo
		}
	}
	return best, best.URL != ""
}

func paperExtra(paper pwcPaper) []string {
	var extra []string
	if len(paper.Authors) > 0 {
		authors := paper.Authors
		suffix := ""
		if len(authors) > 5 {
			authors = authors[:5]
			suffix = " et al."
		}
		extra = append(extra, "Authors: "+strings.Join(authors, ", ")+suffix)
	}
	if paper.ArxivID != "" {
		extra = append(extra, "arXiv: "+paper.ArxivID)
	}
	if paper.URLPDF != "" {
		extra = append(extra, "PDF: "+paper.URLPDF)
	}
	return extra
}

func parsePublished(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

func (p *PwcScanner) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
