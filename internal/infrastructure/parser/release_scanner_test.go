package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ResearchDigest/internal/config"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

const releasesJSON = `[
  {"tag_name": "v2.1.0", "name": "Faster decoding", "body": "Adds speculative decoding.",
   "html_url": "https://github.com/org/infer/releases/tag/v2.1.0", "published_at": "2026-10-11T09:00:00Z"},
  {"tag_name": "v2.1.0-rc1", "name": "", "body": "", "draft": true, "published_at": "2026-10-11T08:00:00Z"},
  {"tag_name": "v2.0.0", "name": "Old", "body": "", "published_at": "2026-09-01T00:00:00Z"}
]`

func newReleaseServer(t *testing.T, auth *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth != nil {
			auth.Store(r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/repos/org/infer/releases":
			if r.URL.Query().Get("per_page") != "5" {
				t.Errorf("unexpected per_page %q", r.URL.Query().Get("per_page"))
			}
			_, _ = w.Write([]byte(releasesJSON))
		case "/repos/org/tagged/releases":
			http.NotFound(w, r)
		case "/repos/org/tagged/tags":
			_, _ = w.Write([]byte(`[{"name": "v0.9"}, {"name": "v0.8"}]`))
		case "/repos/org/tagged":
			_, _ = w.Write([]byte(`{"description": "Tagged only.", "stargazers_count": 42, "language": "Go"}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
}

func TestReleaseScannerScan(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	server := newReleaseServer(t, &auth)
	defer server.Close()

	day := time.Date(2026, time.October, 12, 6, 0, 0, 0, time.UTC)
	sc := NewReleaseScanner(server.Client(), "secret", nil).WithAPIBase(server.URL).WithRequestInterval(0)
	items, err := sc.Scan(context.Background(), scanner.Request{
		Day:        day,
		SiteName:   "releases",
		Categories: []scanner.Category{{Name: "org/infer"}, {Name: "org/tagged"}},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if got := auth.Load(); got != "Bearer secret" {
		t.Fatalf("unexpected authorization header %v", got)
	}
	if len(items) != 2 {
		t.Fatalf("expected recent release and fallback tag, got %d", len(items))
	}

	rel := items[0]
	if rel.UniqueID() != "github:release:org/infer:v2.1.0" {
		t.Fatalf("unexpected id %s", rel.UniqueID())
	}
	if rel.Title != "org/infer - Faster decoding" {
		t.Fatalf("unexpected title %q", rel.Title)
	}
	if rel.URL != "https://github.com/org/infer/releases/tag/v2.1.0" {
		t.Fatalf("unexpected url %s", rel.URL)
	}
	if rel.Summary != "Adds speculative decoding." {
		t.Fatalf("unexpected summary %q", rel.Summary)
	}
	if !rel.PublishedAt.Equal(time.Date(2026, time.October, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published date %v", rel.PublishedAt)
	}

	tag := items[1]
	if tag.UniqueID() != "github:release:org/tagged:v0.9" {
		t.Fatalf("unexpected fallback id %s", tag.UniqueID())
	}
	if tag.URL != "https://github.com/org/tagged/releases/tag/v0.9" {
		t.Fatalf("unexpected fallback url %s", tag.URL)
	}
	if tag.Summary != "Tagged only." || !tag.PublishedAt.Equal(day) {
		t.Fatalf("unexpected fallback item %+v", tag)
	}
	if strings.Join(tag.Extra, "|") != "Tag: v0.9|Stars: 42|Language: Go" {
		t.Fatalf("unexpected fallback extra %v", tag.Extra)
	}
}

func TestReleaseScannerKeepsOtherReposWhenOneFails(t *testing.T) {
	t.Parallel()

	server := newReleaseServer(t, nil)
	defer server.Close()

	sc := NewReleaseScanner(server.Client(), "", nil).WithAPIBase(server.URL).WithRequestInterval(0)
	items, err := sc.Scan(context.Background(), scanner.Request{
		Day:        time.Date(2026, time.October, 12, 6, 0, 0, 0, time.UTC),
		SiteName:   "releases",
		Categories: []scanner.Category{{Name: "org/broken"}, {Name: "org/infer"}, {Name: "not-a-repo"}},
		Options:    map[string]string{"lookback_days": "60"},
	})
	if err == nil {
		t.Fatal("expected joined repository errors")
	}
	if !strings.Contains(err.Error(), "org/broken") || !strings.Contains(err.Error(), "not-a-repo") {
		t.Fatalf("error should name failing repositories: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected both non-draft releases of org/infer within 60 days, got %d", len(items))
	}
}

func TestStrategySourceKeepsPartialReleaseItems(t *testing.T) {
	t.Parallel()

	server := newReleaseServer(t, nil)
	defer server.Close()

	reg := scanner.NewRegistry()
	reg.Register(NewReleaseScanner(server.Client(), "", nil).WithAPIBase(server.URL).WithRequestInterval(0))

	src := NewStrategySource(reg, []config.SiteConfig{{
		Name:       "releases",
		Scanner:    "github-releases",
		Categories: []config.CategoryConfig{{Name: "org/broken"}, {Name: "org/infer"}},
	}}, nil)

	grouped, err := src.Collect(context.Background(), time.Date(2026, time.October, 12, 6, 0, 0, 0, time.UTC))
	var siteErr *SiteError
	if !errors.As(err, &siteErr) || siteErr.Site != "releases" {
		t.Fatalf("expected SiteError for releases, got %v", err)
	}
	if len(grouped[domain.SourceGitHub]) != 1 {
		t.Fatalf("expected the healthy repository's release, got %v", grouped)
	}
}

func TestReleaseScannerRequiresRepositories(t *testing.T) {
	t.Parallel()

	sc := NewReleaseScanner(nil, "", nil)
	if _, err := sc.Scan(context.Background(), scanner.Request{SiteName: "releases"}); err == nil {
		t.Fatal("expected error without repositories")
	}
	_, err := sc.Scan(context.Background(), scanner.Request{
		SiteName:   "releases",
		Categories: []scanner.Category{{Name: "org/infer"}},
		Options:    map[string]string{"lookback_days": "soon"},
	})
	if err == nil {
		t.Fatal("expected error for non-numeric lookback_days")
	}
}
