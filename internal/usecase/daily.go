package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"ResearchDigest/internal/dedup"
	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ledger"
	"ResearchDigest/internal/ports"
	"ResearchDigest/internal/scoring"
)

// DailyDeps wires all driven adapters into the daily run.
type DailyDeps struct {
	Source     ports.ItemSource
	Engine     *scoring.Engine
	Store      *dedup.Store
	Renderer   *digest.Renderer
	Archive    ports.DocumentArchive
	Publishers []ports.Publisher
	Ledger     *ledger.Ledger
	Logger     *slog.Logger
	Clock      func() time.Time
	// Summarizer is optional; without it items keep their abstracts.
	Summarizer ports.Summarizer
}

// DailyOptions tunes filtering and retention.
type DailyOptions struct {
	MinScore          float64
	MaxItemsPerSource int
	Retention         time.Duration
	// DryRun renders the document without archiving, publishing or
	// touching the dedup store and ledger.
	DryRun bool
}

// DailyResult is the outcome of one daily run.
type DailyResult struct {
	Record   domain.RunRecord
	Document digest.Document
}

// DailyRun collects, scores, deduplicates and publishes one daily digest.
type DailyRun struct {
	deps DailyDeps
	opts DailyOptions
}

// NewDailyRun constructs the daily use case.
func NewDailyRun(deps DailyDeps, opts DailyOptions) *DailyRun {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Renderer == nil {
		deps.Renderer = digest.NewRenderer("")
	}
	return &DailyRun{deps: deps, opts: opts}
}

// Run executes the daily path. Fatal errors (configuration, store
// corruption, archive failure) return before the dedup store is saved.
// Site and delivery failures are recorded and the run continues.
func (d *DailyRun) Run(ctx context.Context) (DailyResult, error) {
	now := d.deps.Clock()
	logger := runLogger(d.deps.Logger)
	rec := domain.RunRecord{
		At:          now.UTC(),
		Kind:        domain.RunDaily,
		Collected:   map[string]int{},
		AfterFilter: map[string]int{},
		AfterDedup:  map[string]int{},
		Deliveries:  map[string]bool{},
	}

	if d.deps.Engine == nil || d.deps.Store == nil || d.deps.Source == nil {
		return DailyResult{Record: rec}, domain.NewConfigurationError("daily", "source, engine and dedup store are required")
	}

	if err := d.deps.Store.Load(ctx); err != nil {
		return d.fail(logger, rec, err)
	}
	if err := d.deps.Ledger.Load(ctx); err != nil {
		return d.fail(logger, rec, err)
	}

	collected, err := d.deps.Source.Collect(ctx, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return d.fail(logger, rec, ctxErr)
		}
		for _, e := range splitJoined(err) {
			rec.Errors = append(rec.Errors, e.Error())
		}
	}

	sections := map[domain.Source][]domain.Item{}
	for source, items := range collected {
		rec.Collected[string(source)] = len(items)

		kept := d.deps.Engine.Filter(items, d.opts.MinScore)
		rec.AfterFilter[string(source)] = len(kept)

		unseen := kept[:0:0]
		for _, item := range kept {
			if !d.deps.Store.HasSeen(item.UniqueID()) {
				unseen = append(unseen, item)
			}
		}
		if d.opts.MaxItemsPerSource > 0 && len(unseen) > d.opts.MaxItemsPerSource {
			unseen = unseen[:d.opts.MaxItemsPerSource]
		}
		// Only delivered items are marked, so capped items get another chance.
		delivered := d.deps.Store.FilterUnseen(unseen, now)
		rec.AfterDedup[string(source)] = len(delivered)
		if len(delivered) > 0 {
			sections[source] = delivered
		}
	}

	d.summarize(ctx, sections, &rec, logger)

	doc := d.deps.Renderer.RenderDaily(now, sections)
	result := DailyResult{Record: rec, Document: doc}

	if d.opts.DryRun {
		d.summary(logger, result.Record, "dry_run", true)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return d.fail(logger, result.Record, err)
	}

	if d.deps.Archive != nil {
		ref, err := d.deps.Archive.Put(ctx, doc)
		if err != nil {
			return d.fail(logger, result.Record, fmt.Errorf("archive daily document: %w", err))
		}
		result.Record.DocumentRef = ref
	}

	publish(ctx, d.deps.Publishers, doc, &result.Record, logger)

	d.deps.Store.Prune(now, d.opts.Retention)
	if err := d.deps.Store.Save(ctx); err != nil {
		return d.fail(logger, result.Record, err)
	}

	if err := appendRecord(ctx, d.deps.Ledger, result.Record, logger); err != nil {
		return result, err
	}
	d.summary(logger, result.Record)
	return result, nil
}

// summarize replaces item summaries in place. A failure keeps the abstracts
// and is recorded on the run.
func (d *DailyRun) summarize(ctx context.Context, sections map[domain.Source][]domain.Item, rec *domain.RunRecord, logger *slog.Logger) {
	if d.deps.Summarizer == nil || len(sections) == 0 {
		return
	}

	sources := make([]domain.Source, 0, len(sections))
	for source := range sections {
		sources = append(sources, source)
	}
	slices.Sort(sources)

	var all []domain.Item
	for _, source := range sources {
		all = append(all, sections[source]...)
	}

	summaries, err := d.deps.Summarizer.Summarize(ctx, all)
	if err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("summarize: %v", err))
		if logger != nil {
			logger.Warn("summarizer failed, keeping abstracts", "error", err, "summarized", len(summaries))
		}
	}
	for _, items := range sections {
		for i := range items {
			if text, ok := summaries[items[i].UniqueID()]; ok && text != "" {
				items[i].Summary = text
			}
		}
	}
}

// fail stops the run without writing the dedup store or the ledger.
func (d *DailyRun) fail(logger *slog.Logger, rec domain.RunRecord, err error) (DailyResult, error) {
	rec.Errors = append(rec.Errors, err.Error())
	d.summary(logger, rec)
	return DailyResult{Record: rec}, err
}

func (d *DailyRun) summary(logger *slog.Logger, rec domain.RunRecord, extra ...any) {
	if logger == nil {
		return
	}
	args := []any{
		"collected", total(rec.Collected),
		"after_filter", total(rec.AfterFilter),
		"after_dedup", total(rec.AfterDedup),
		"document", rec.DocumentRef,
		"errors", len(rec.Errors),
	}
	logger.Info("daily run finished", append(args, extra...)...)
}
