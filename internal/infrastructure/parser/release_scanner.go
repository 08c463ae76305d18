package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scanner"
)

const (
	githubAPIBase       = "https://api.github.com"
	releasesPerRepo     = 5
	tagsPerRepo         = 3
	releaseSummaryRunes = 500
	releaseBodyRunes    = 1000
)

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type githubTag struct {
	Name string `json:"name"`
}

type githubRepo struct {
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
	Language    string `json:"language"`
}

// ReleaseScanner reads recent releases of tracked repositories from the
// GitHub REST API. Each category names one repository as owner/repo.
// Repositories without releases fall back to their newest tag.
// Option lookback_days (default 2) bounds release age.
type ReleaseScanner struct {
	client  *http.Client
	limiter *rate.Limiter
	apiBase string
	token   string
	logger  *slog.Logger
}

// NewReleaseScanner wires an HTTP client and an optional API token.
func NewReleaseScanner(client *http.Client, token string, logger *slog.Logger) *ReleaseScanner {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ReleaseScanner{
		client:  client,
		limiter: newLimiter(DefaultRequestInterval),
		apiBase: githubAPIBase,
		token:   token,
		logger:  logger,
	}
}

// WithRequestInterval changes the minimum gap between API requests.
func (r *ReleaseScanner) WithRequestInterval(d time.Duration) *ReleaseScanner {
	r.limiter = newLimiter(d)
	return r
}

// WithAPIBase points the scanner at another API root.
func (r *ReleaseScanner) WithAPIBase(base string) *ReleaseScanner {
	r.apiBase = strings.TrimRight(base, "/")
	return r
}

// Name identifies the strategy inside the registry.
func (r *ReleaseScanner) Name() string {
	return "github-releases"
}

// Scan returns releases published within the lookback window. A failing
// repository does not hide the others: their items are returned together
// with the joined per-repository errors.
func (r *ReleaseScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no repositories configured for site %s", req.SiteName)
	}
	lookback, err := req.IntOption("lookback_days", 2)
	if err != nil {
		return nil, err
	}
	if lookback < 1 {
		lookback = 1
	}
	cutoff := req.Day.UTC().AddDate(0, 0, -lookback)

	var (
		results  []domain.Item
		failures []error
	)
	for _, cat := range req.Categories {
		repo := strings.Trim(strings.TrimSpace(cat.Name), "/")
		if strings.Count(repo, "/") != 1 {
			failures = append(failures, fmt.Errorf("repository %q is not owner/repo", cat.Name))
			continue
		}

		items, err := r.scanRepo(ctx, repo, req.Day.UTC(), cutoff)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			failures = append(failures, fmt.Errorf("repository %s: %w", repo, err))
			continue
		}
		results = append(results, items...)
		r.debug("releases scanned", "repo", repo, "matched", len(items))
	}
	return results, errors.Join(failures...)
}

func (r *ReleaseScanner) scanRepo(ctx context.Context, repo string, day, cutoff time.Time) ([]domain.Item, error) {
	var releases []githubRelease
	err := r.get(ctx, fmt.Sprintf("/repos/%s/releases?per_page=%d", repo, releasesPerRepo), &releases)
	if isStatus(err, http.StatusNotFound) {
		return r.latestTag(ctx, repo, day)
	}
	if err != nil {
		return nil, err
	}

	var items []domain.Item
	for _, rel := range releases {
		if rel.Draft || rel.TagName == "" {
			continue
		}
		published := rel.PublishedAt
		if published.IsZero() {
			published = rel.CreatedAt
		}
		if published.IsZero() || published.Before(cutoff) {
			continue
		}
		items = append(items, releaseItem(repo, rel, published))
	}
	return items, nil
}

func releaseItem(repo string, rel githubRelease, published time.Time) domain.Item {
	name := strings.TrimSpace(rel.Name)
	if name == "" {
		name = rel.TagName
	}
	link := rel.HTMLURL
	if link == "" {
		link = releaseURL(repo, rel.TagName)
	}
	body := strings.TrimSpace(rel.Body)

	extra := []string{"Tag: " + rel.TagName}
	if rel.Prerelease {
		extra = append(extra, "Pre-release")
	}

	return domain.Item{
		Source:      domain.SourceGitHub,
		Key:         fmt.Sprintf("release:%s:%s", repo, rel.TagName),
		Title:       fmt.Sprintf("%s - %s", repo, name),
		URL:         link,
		PublishedAt: published.UTC(),
		RawText:     repo + " " + name + "\n" + truncateRunes(body, releaseBodyRunes),
		Summary:     truncateRunes(body, releaseSummaryRunes),
		Extra:       extra,
	}
}

// latestTag serves repositories that publish tags but no GitHub releases.
// Tags carry no date, so the newest one is stamped with the run day and
// dedup keeps it from repeating.
func (r *ReleaseScanner) latestTag(ctx context.Context, repo string, day time.Time) ([]domain.Item, error) {
	var tags []githubTag
	if err := r.get(ctx, fmt.Sprintf("/repos/%s/tags?per_page=%d", repo, tagsPerRepo), &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 || tags[0].Name == "" {
		return nil, nil
	}

	var info githubRepo
	if err := r.get(ctx, "/repos/"+repo, &info); err != nil {
		r.debug("repository info unavailable", "repo", repo, "error", err)
	}

	tag := tags[0].Name
	extra := []string{"Tag: " + tag}
	if info.Stars > 0 {
		extra = append(extra, fmt.Sprintf("Stars: %d", info.Stars))
	}
	if info.Language != "" {
		extra = append(extra, "Language: "+info.Language)
	}
	description := strings.TrimSpace(info.Description)

	return []domain.Item{{
		Source:      domain.SourceGitHub,
		Key:         fmt.Sprintf("release:%s:%s", repo, tag),
		Title:       fmt.Sprintf("%s - %s", repo, tag),
		URL:         releaseURL(repo, tag),
		PublishedAt: day,
		RawText:     repo + " " + tag + "\n" + description,
		Summary:     description,
		Extra:       extra,
	}}, nil
}

func (r *ReleaseScanner) get(ctx context.Context, path string, out any) error {
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	return fetchJSON(ctx, r.client, r.limiter, r.apiBase+path, header, out)
}

func releaseURL(repo, tag string) string {
	return fmt.Sprintf("%s/%s/releases/tag/%s", githubBaseURL, repo, url.PathEscape(tag))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func (r *ReleaseScanner) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
