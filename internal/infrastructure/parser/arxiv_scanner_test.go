package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	base := "https://export.arxiv.org/list/cs.AI/pastweek"
	u, err := buildPageURL(base, 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}

	if parsed.Scheme != "https" || parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}

	q := parsed.Query()
	if q.Get("skip") != "200" {
		t.Fatalf("expected skip=200, got %s", q.Get("skip"))
	}
	if q.Get("show") != "100" {
		t.Fatalf("expected show=100, got %s", q.Get("show"))
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt>
	    <span class="list-identifier"><a href="/abs/1234.56789">arXiv:1234.56789</a></span>
	  </dt>
	  <dd>
	    <div class="list-date">Date: 8 Nov 2025</div>
	    <div class="list-title mathjax">Title:
	      Planning Agents
	      with Tools</div>
	    <div class="list-authors"><a>A. One</a>, <a>B. Two</a>, <a>C. Three</a>, <a>D. Four</a></div>
	    <div class="list-subjects">Subjects: Artificial Intelligence (cs.AI)</div>
	    <p class="mathjax">Abstract: Sample abstract text.</p>
	  </dd>
	</dl>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	item, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First())
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}

	if item.Source != domain.SourceArxiv || item.Key != "1234.56789" {
		t.Fatalf("unexpected identity: %s", item.UniqueID())
	}
	if item.Title != "Planning Agents with Tools" {
		t.Fatalf("unexpected title: %q", item.Title)
	}
	if item.URL != "https://arxiv.org/abs/1234.56789" {
		t.Fatalf("unexpected url: %s", item.URL)
	}
	if item.Summary != "Sample abstract text." {
		t.Fatalf("unexpected abstract: %s", item.Summary)
	}
	if item.RawText != "Planning Agents with Tools\nSample abstract text." {
		t.Fatalf("unexpected raw text: %q", item.RawText)
	}
	if len(item.Extra) != 3 || item.Extra[0] != "**Authors**: A. One, B. Two, C. Three et al." {
		t.Fatalf("unexpected extra: %v", item.Extra)
	}

	wantDate := time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC)
	if !item.PublishedAt.Equal(wantDate) {
		t.Fatalf("unexpected published date: %v", item.PublishedAt)
	}
}

func TestParseEntryWithoutID(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<dl><dt></dt><dd><div class="list-title">Title: X</div></dd></dl>`))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First()); err == nil {
		t.Fatalf("expected error for entry without id")
	}
}

const arxivListing = `
<dl>
  <dt>
    <span class="list-identifier"><a href="/abs/2501.00001">arXiv:2501.00001</a></span>
  </dt>
  <dd>
    <div class="list-date">Date: 8 Nov 2025</div>
    <div class="list-title mathjax">Title: Fresh Article</div>
    <p class="mathjax">Abstract: brand new.</p>
  </dd>
  <dt>
    <span class="list-identifier"><a href="/abs/2501.00002">arXiv:2501.00002</a></span>
  </dt>
  <dd>
    <div class="list-date">Date: 7 Nov 2025</div>
    <div class="list-title mathjax">Title: Yesterday Article</div>
    <p class="mathjax">Abstract: older.</p>
  </dd>
  <dt>
    <span class="list-identifier"><a href="/abs/2501.00003">arXiv:2501.00003</a></span>
  </dt>
  <dd>
    <div class="list-date">Date: 1 Nov 2025</div>
    <div class="list-title mathjax">Title: Old Article</div>
    <p class="mathjax">Abstract: oldest.</p>
  </dd>
</dl>`

func TestArxivScannerScan(t *testing.T) {
	t.Parallel()

	targetDay := time.Date(2025, time.November, 8, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(arxivListing))
	}))
	defer server.Close()

	sc := NewArxivScanner(server.Client(), nil).WithRequestInterval(0)
	sc.pageSize = 10

	req := scanner.Request{
		Day:      targetDay,
		SiteName: "arxiv-ai",
		Categories: []scanner.Category{
			{Name: "cs.AI", URL: server.URL + "/list/cs.AI"},
			{Name: "cs.CL", URL: server.URL + "/list/cs.CL"},
		},
	}

	items, err := sc.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item across duplicated categories, got %d", len(items))
	}
	if items[0].UniqueID() != "arxiv:2501.00001" {
		t.Fatalf("unexpected item id: %s", items[0].UniqueID())
	}

	req.Options = map[string]string{"lookback_days": "2"}
	items, err = sc.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan with lookback error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items with lookback, got %d", len(items))
	}
}

func TestArxivScannerHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sc := NewArxivScanner(server.Client(), nil).WithRequestInterval(0)
	_, err := sc.Scan(context.Background(), scanner.Request{
		Day:        time.Now(),
		SiteName:   "arxiv",
		Categories: []scanner.Category{{Name: "cs.AI", URL: server.URL}},
	})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFetchDocumentSpacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))
	defer server.Close()

	limiter := newLimiter(40 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := fetchDocument(context.Background(), server.Client(), limiter, server.URL); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected throttled requests, took %v", elapsed)
	}
}

func TestFetchDocumentHonoursCancellation(t *testing.T) {
	limiter := newLimiter(time.Hour)
	limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fetchDocument(ctx, http.DefaultClient, limiter, "http://127.0.0.1:1"); err == nil {
		t.Fatalf("expected error while waiting on a cancelled context")
	}
}
