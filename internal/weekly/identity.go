package weekly

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
)

// FallbackIdentity selects which rendered fields form the secondary key when
// a block carries no source key.
type FallbackIdentity string

const (
	FallbackTitleURL FallbackIdentity = "title_url"
	FallbackURL      FallbackIdentity = "url"
	FallbackTitle    FallbackIdentity = "title"
)

// ParseFallbackIdentity validates a configured fallback mode.
func ParseFallbackIdentity(value string) (FallbackIdentity, error) {
	switch FallbackIdentity(value) {
	case "":
		return FallbackTitleURL, nil
	case FallbackTitleURL, FallbackURL, FallbackTitle:
		return FallbackIdentity(value), nil
	default:
		return "", fmt.Errorf("unknown fallback identity %q", value)
	}
}

var (
	nonWordExpr   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	githubRepo    = regexp.MustCompile(`^/([^/]+/[^/]+?)(?:\.git)?/?$`)
	githubRelease = regexp.MustCompile(`^/([^/]+/[^/]+)/releases/tag/(.+?)/?$`)
)

// resolveIdentity returns the unique id of a block and how it was obtained.
func resolveIdentity(block digest.Block, mode FallbackIdentity) (string, domain.Source, domain.IdentityConfidence) {
	if block.Marker != nil {
		return domain.UniqueID(block.Marker.Source, block.Marker.Key), block.Marker.Source, domain.IdentityExact
	}
	if source, key, ok := keyFromURL(block.URL); ok {
		return domain.UniqueID(source, key), source, domain.IdentityDerived
	}
	return fallbackKey(block.Title, block.URL, mode), block.Section, domain.IdentityFallback
}

// keyFromURL recognizes the canonical URL shapes each collector emits.
func keyFromURL(raw string) (domain.Source, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := u.EscapedPath()
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}

	switch host {
	case "arxiv.org", "export.arxiv.org":
		if id, ok := strings.CutPrefix(path, "/abs/"); ok && strings.Trim(id, "/") != "" {
			return domain.SourceArxiv, strings.Trim(id, "/"), true
		}
	case "github.com":
		if m := githubRelease.FindStringSubmatch(path); m != nil {
			return domain.SourceGitHub, fmt.Sprintf("release:%s:%s", m[1], m[2]), true
		}
		if m := githubRepo.FindStringSubmatch(path); m != nil {
			return domain.SourceGitHub, "trending:" + m[1], true
		}
	case "paperswithcode.com":
		if id, ok := strings.CutPrefix(path, "/paper/"); ok && strings.Trim(id, "/") != "" {
			return domain.SourcePwC, strings.Trim(id, "/"), true
		}
	}
	return "", "", false
}

func fallbackKey(title, rawURL string, mode FallbackIdentity) string {
	var material string
	switch mode {
	case FallbackURL:
		material = normalizeURL(rawURL)
	case FallbackTitle:
		material = normalizeTitle(title)
	default:
		material = normalizeTitle(title) + "|" + normalizeURL(rawURL)
	}
	sum := sha1.Sum([]byte(material))
	return "fallback:" + hex.EncodeToString(sum[:])
}

func normalizeTitle(title string) string {
	return strings.TrimSpace(nonWordExpr.ReplaceAllString(strings.ToLower(title), " "))
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host + strings.TrimRight(u.EscapedPath(), "/")
}
