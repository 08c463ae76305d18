package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ResearchDigest/internal/config"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

const trendingPage = `
<div>
  <article class="Box-row">
    <h2><a href="/org/agent-kit">org / agent-kit</a></h2>
    <p>  An agent framework
       for tool use. </p>
    <span itemprop="programmingLanguage">Python</span>
    <a class="Link--muted" href="/org/agent-kit/stargazers">1,204</a>
    <span class="d-inline-block float-sm-right">87 stars today</span>
  </article>
  <article class="Box-row">
    <h2><a href="/someone/tiny">someone / tiny</a></h2>
    <p>Small repo.</p>
    <a class="Link--muted" href="/someone/tiny/stargazers">12</a>
  </article>
  <article class="Box-row">
    <h2><a href="/broken">broken</a></h2>
  </article>
</div>`

func TestTrendingScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(trendingPage))
	}))
	defer server.Close()

	day := time.Date(2026, time.October, 12, 6, 0, 0, 0, time.UTC)
	sc := NewTrendingScanner(server.Client(), nil).WithRequestInterval(0)
	items, err := sc.Scan(context.Background(), scanner.Request{
		Day:        day,
		SiteName:   "gh",
		Categories: []scanner.Category{{Name: "python", URL: server.URL + "/trending/python"}},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 repo above min stars, got %d", len(items))
	}

	item := items[0]
	if item.UniqueID() != "github:trending:org/agent-kit" {
		t.Fatalf("unexpected id %s", item.UniqueID())
	}
	if item.URL != "https://github.com/org/agent-kit" {
		t.Fatalf("unexpected url %s", item.URL)
	}
	if item.Summary != "An agent framework for tool use." {
		t.Fatalf("unexpected summary %q", item.Summary)
	}
	if item.Extra[0] != "Stars: 1204 (+87 today)" || item.Extra[1] != "Language: Python" {
		t.Fatalf("unexpected extra %v", item.Extra)
	}
	if !item.PublishedAt.Equal(day) {
		t.Fatalf("unexpected published date %v", item.PublishedAt)
	}

	items, err = sc.Scan(context.Background(), scanner.Request{
		Day:        day,
		SiteName:   "gh",
		Categories: []scanner.Category{{Name: "python", URL: server.URL}},
		Options:    map[string]string{"min_stars": "0"},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 repos with min_stars=0, got %d", len(items))
	}
}

type fakeScanner struct {
	name  string
	items []domain.Item
	err   error
}

func (f fakeScanner) Name() string { return f.name }

func (f fakeScanner) Scan(context.Context, scanner.Request) ([]domain.Item, error) {
	return f.items, f.err
}

func TestStrategySourceCollectKeepsPartialResults(t *testing.T) {
	t.Parallel()

	reg := scanner.NewRegistry(
		fakeScanner{name: "ok", items: []domain.Item{
			{Source: domain.SourceArxiv, Key: "1"},
			{Source: domain.SourceGitHub, Key: "trending:a/b"},
		}},
		fakeScanner{name: "down", err: errors.New("connection refused")},
	)
	sites := []config.SiteConfig{
		{Name: "good", Scanner: "ok"},
		{Name: "bad", Scanner: "down"},
		{Name: "unknown", Scanner: "ieee"},
	}
	source := NewStrategySource(reg, sites, nil)

	grouped, err := source.Collect(context.Background(), time.Now())
	if err == nil {
		t.Fatalf("expected joined site errors")
	}
	var siteErr *SiteError
	if !errors.As(err, &siteErr) {
		t.Fatalf("expected SiteError, got %v", err)
	}
	if !strings.Contains(err.Error(), "site bad") || !strings.Contains(err.Error(), "site unknown") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	if len(grouped[domain.SourceArxiv]) != 1 || len(grouped[domain.SourceGitHub]) != 1 {
		t.Fatalf("unexpected grouping %v", grouped)
	}

	if err := source.CheckSites(); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown scanner, got %v", err)
	}
}
