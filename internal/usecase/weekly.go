package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ledger"
	"ResearchDigest/internal/ports"
	"ResearchDigest/internal/weekly"
)

// WeeklyDeps wires the adapters used by the weekly digest.
type WeeklyDeps struct {
	Archive    ports.DocumentArchive
	Aggregator *weekly.Aggregator
	Ranker     weekly.Ranker
	Renderer   *digest.Renderer
	Publishers []ports.Publisher
	Ledger     *ledger.Ledger
	Logger     *slog.Logger
	Clock      func() time.Time
}

// WeeklyOptions selects the aggregation window.
type WeeklyOptions struct {
	Lookback time.Duration
	DryRun   bool
}

// WeeklyResult is the outcome of one weekly run.
type WeeklyResult struct {
	Record      domain.RunRecord
	Document    digest.Document
	Entries     []domain.RankedEntry
	Diagnostics []domain.Diagnostic
}

// WeeklyRun rebuilds items from archived daily documents and ranks them.
type WeeklyRun struct {
	deps WeeklyDeps
	opts WeeklyOptions
}

// NewWeeklyRun constructs the weekly use case.
func NewWeeklyRun(deps WeeklyDeps, opts WeeklyOptions) *WeeklyRun {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Renderer == nil {
		deps.Renderer = digest.NewRenderer("")
	}
	if deps.Aggregator == nil {
		deps.Aggregator = weekly.NewAggregator(weekly.FallbackTitleURL, deps.Logger)
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	return &WeeklyRun{deps: deps, opts: opts}
}

// Run aggregates the window ending now. Unreadable blocks and documents
// become diagnostics on the run record; they never abort the run.
func (w *WeeklyRun) Run(ctx context.Context) (WeeklyResult, error) {
	now := w.deps.Clock()
	logger := runLogger(w.deps.Logger)
	start := now.Add(-w.opts.Lookback)
	rec := domain.RunRecord{
		At:          now.UTC(),
		Kind:        domain.RunWeekly,
		Collected:   map[string]int{},
		AfterFilter: map[string]int{},
		AfterDedup:  map[string]int{},
		Deliveries:  map[string]bool{},
	}

	if w.deps.Archive == nil {
		return w.fail(logger, rec, domain.NewConfigurationError("archive", "weekly digest needs a document archive"))
	}

	if err := w.deps.Ledger.Load(ctx); err != nil {
		return w.fail(logger, rec, err)
	}

	docs, err := w.deps.Archive.List(ctx, domain.RunDaily, start, now)
	if err != nil {
		return w.fail(logger, rec, fmt.Errorf("list daily documents: %w", err))
	}

	agg := w.deps.Aggregator.Aggregate(docs, start, now)
	for _, d := range agg.Diagnostics {
		rec.Diagnostics = append(rec.Diagnostics, d.String())
	}
	for _, item := range agg.Items {
		rec.Collected[string(item.Source)]++
	}

	entries := w.deps.Ranker.Rank(agg.Items, agg.Appearances)
	for _, e := range entries {
		rec.AfterFilter[string(e.Item.Source)]++
	}

	doc := w.deps.Renderer.RenderWeekly(now, start, now, entries)
	result := WeeklyResult{Record: rec, Document: doc, Entries: entries, Diagnostics: agg.Diagnostics}

	if w.opts.DryRun {
		w.summary(logger, result.Record, agg.Documents, "dry_run", true)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return w.fail(logger, result.Record, err)
	}

	ref, err := w.deps.Archive.Put(ctx, doc)
	if err != nil {
		return w.fail(logger, result.Record, fmt.Errorf("archive weekly document: %w", err))
	}
	result.Record.DocumentRef = ref

	publish(ctx, w.deps.Publishers, doc, &result.Record, logger)

	if err := appendRecord(ctx, w.deps.Ledger, result.Record, logger); err != nil {
		return result, err
	}
	w.summary(logger, result.Record, agg.Documents)
	return result, nil
}

func (w *WeeklyRun) fail(logger *slog.Logger, rec domain.RunRecord, err error) (WeeklyResult, error) {
	rec.Errors = append(rec.Errors, err.Error())
	w.summary(logger, rec, 0)
	return WeeklyResult{Record: rec}, err
}

func (w *WeeklyRun) summary(logger *slog.Logger, rec domain.RunRecord, documents int, extra ...any) {
	if logger == nil {
		return
	}
	args := []any{
		"documents", documents,
		"items", total(rec.Collected),
		"ranked", total(rec.AfterFilter),
		"diagnostics", len(rec.Diagnostics),
		"document", rec.DocumentRef,
		"errors", len(rec.Errors),
	}
	logger.Info("weekly run finished", append(args, extra...)...)
}
