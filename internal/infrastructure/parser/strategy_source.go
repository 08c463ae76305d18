package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ResearchDigest/internal/config"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ports"
	"ResearchDigest/internal/scanner"
)

// SiteError reports one configured site that could not be scanned.
type SiteError struct {
	Site string
	Err  error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("site %s: %v", e.Site, e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// CheckSites verifies every configured site names a registered scanner.
func (s *StrategySource) CheckSites() error {
	for i, site := range s.sites {
		if _, err := s.registry.Resolve(site.Scanner); err != nil {
			return domain.NewConfigurationError(fmt.Sprintf("sites[%d].scanner", i), "%v (known: %v)", err, s.registry.Names())
		}
	}
	return nil
}

// Collect iterates over configured sites and groups their items by source.
// Failed sites are joined into the returned error; the items of the other
// sites, and any partial items of a failed one, are still returned.
func (s *StrategySource) Collect(ctx context.Context, day time.Time) (map[domain.Source][]domain.Item, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("collect", "sites", len(s.sites), "day", day.Format("2006-01-02"))

	grouped := map[domain.Source][]domain.Item{}
	var failures []error
	for _, site := range s.sites {
		if err := ctx.Err(); err != nil {
			return grouped, err
		}

		s.debug("process site", "site", site.Name, "scanner", site.Scanner, "categories", len(site.Categories))
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			failures = append(failures, &SiteError{Site: site.Name, Err: err})
			continue
		}

		req := scanner.Request{
			Day:        day,
			SiteName:   site.Name,
			Options:    site.Options,
			Categories: toScannerCategories(site.Categories),
		}

		// Scanners that work per category may return partial items with an error.
		results, err := strategy.Scan(ctx, req)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("site scan failed", "site", site.Name, "error", err, "partial", len(results))
			}
			failures = append(failures, &SiteError{Site: site.Name, Err: err})
		}

		for _, item := range results {
			grouped[item.Source] = append(grouped[item.Source], item)
		}
		s.debug("site produced items", "site", site.Name, "count", len(results))
	}

	s.debug("strategy source done", "sources", len(grouped), "failed_sites", len(failures))
	return grouped, errors.Join(failures...)
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
