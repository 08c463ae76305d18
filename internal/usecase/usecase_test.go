package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchDigest/internal/dedup"
	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/infrastructure/archive"
	"ResearchDigest/internal/ledger"
	"ResearchDigest/internal/ports"
	"ResearchDigest/internal/scoring"
	"ResearchDigest/internal/weekly"
)

var runDay = time.Date(2026, time.October, 12, 6, 0, 0, 0, time.UTC)

type fakeSource struct {
	items map[domain.Source][]domain.Item
	err   error
}

func (f fakeSource) Collect(context.Context, time.Time) (map[domain.Source][]domain.Item, error) {
	out := map[domain.Source][]domain.Item{}
	for k, v := range f.items {
		out[k] = append([]domain.Item(nil), v...)
	}
	return out, f.err
}

type fakePublisher struct {
	name string
	err  error
	docs []digest.Document
	hook func()
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, doc digest.Document) error {
	f.docs = append(f.docs, doc)
	if f.hook != nil {
		f.hook()
	}
	return f.err
}

type corruptBackend struct{}

func (corruptBackend) Load(context.Context) (map[string]time.Time, error) {
	return nil, &domain.StoreCorruptionError{Store: "dedup", Path: "seen.json", Err: errors.New("unexpected EOF")}
}

func (corruptBackend) Save(context.Context, map[string]time.Time) error {
	return errors.New("must not be called")
}

type corruptLedgerBackend struct{ saves int }

func (*corruptLedgerBackend) Load(context.Context) ([]domain.RunRecord, error) {
	return nil, &domain.StoreCorruptionError{Store: "ledger", Path: "runs.json", Err: errors.New("invalid character")}
}

func (c *corruptLedgerBackend) Save(context.Context, []domain.RunRecord) error {
	c.saves++
	return nil
}

func newEngine(t *testing.T) *scoring.Engine {
	t.Helper()
	engine, err := scoring.New([]domain.CategoryDefinition{
		{Name: "agent", Weight: 1.5, Terms: []string{"agent", "planning", "tool use"}},
		{Name: "rag", Weight: 1.2, Terms: []string{"retrieval"}},
	})
	require.NoError(t, err)
	return engine
}

func arxivItem(key, text string) domain.Item {
	return domain.Item{
		Source:  domain.SourceArxiv,
		Key:     key,
		Title:   "Paper " + key,
		URL:     "https://arxiv.org/abs/" + key,
		RawText: text,
		Summary: text,
	}
}

type harness struct {
	backend   *dedup.MemoryBackend
	archive   *archive.Memory
	ledger    *ledger.Ledger
	publisher *fakePublisher
}

func newHarness(seen map[string]time.Time) *harness {
	return &harness{
		backend:   dedup.NewMemoryBackend(seen),
		archive:   archive.NewMemory(),
		ledger:    ledger.New(&ledger.MemoryBackend{}, 10, nil),
		publisher: &fakePublisher{name: "telegram"},
	}
}

func (h *harness) daily(t *testing.T, source fakeSource, at time.Time, opts DailyOptions) *DailyRun {
	return NewDailyRun(DailyDeps{
		Source:     source,
		Engine:     newEngine(t),
		Store:      dedup.NewStore(h.backend, nil),
		Archive:    h.archive,
		Publishers: []ports.Publisher{h.publisher},
		Ledger:     h.ledger,
		Clock:      func() time.Time { return at },
	}, opts)
}

func TestDailyRunFiltersDeduplicatesAndPublishes(t *testing.T) {
	t.Parallel()

	seenAt := runDay.AddDate(0, 0, -3)
	h := newHarness(map[string]time.Time{
		"arxiv:seen":    seenAt,
		"arxiv:expired": runDay.AddDate(0, 0, -40),
	})
	source := fakeSource{items: map[domain.Source][]domain.Item{
		domain.SourceArxiv: {
			arxivItem("fresh", "An agent with planning and retrieval"),
			arxivItem("seen", "An agent again"),
			arxivItem("weak", "Protein folding"),
		},
	}}

	result, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, Retention: 30 * 24 * time.Hour}).Run(context.Background())
	require.NoError(t, err)

	rec := result.Record
	assert.Equal(t, 3, rec.Collected["arxiv"])
	assert.Equal(t, 2, rec.AfterFilter["arxiv"])
	assert.Equal(t, 1, rec.AfterDedup["arxiv"])
	assert.Equal(t, map[string]bool{"telegram": true}, rec.Deliveries)
	assert.Equal(t, "memory://daily-2026-10-12", rec.DocumentRef)
	assert.Empty(t, rec.Errors)

	require.Len(t, h.publisher.docs, 1)
	body := h.publisher.docs[0].Body
	assert.Contains(t, body, "Paper fresh")
	assert.NotContains(t, body, "Paper seen")
	assert.NotContains(t, body, "Paper weak")

	saved := h.backend.Snapshot()
	assert.Equal(t, 1, h.backend.Saves)
	assert.True(t, saved["arxiv:fresh"].Equal(runDay))
	assert.True(t, saved["arxiv:seen"].Equal(seenAt))
	assert.NotContains(t, saved, "arxiv:expired")
	assert.NotContains(t, saved, "arxiv:weak")

	records, err := h.ledger.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RunDaily, records[0].Kind)
}

func TestDailyRunDoesNotRedeliver(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{
		domain.SourceArxiv: {arxivItem("a", "agent")},
	}}
	opts := DailyOptions{MinScore: 1.0, Retention: 30 * 24 * time.Hour}

	_, err := h.daily(t, source, runDay, opts).Run(context.Background())
	require.NoError(t, err)
	second, err := h.daily(t, source, runDay.AddDate(0, 0, 1), opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Record.AfterDedup["arxiv"])
	assert.Contains(t, second.Document.Body, "No new items")
	assert.Len(t, h.archive.Documents(), 2)
}

func TestDailyRunCapLeavesExtraItemsUnseen(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{
		domain.SourceArxiv: {
			arxivItem("top", "agent planning retrieval"),
			arxivItem("mid", "agent planning"),
			arxivItem("low", "agent"),
		},
	}}

	result, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, MaxItemsPerSource: 2, Retention: time.Hour}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Record.AfterDedup["arxiv"])

	saved := h.backend.Snapshot()
	assert.Contains(t, saved, "arxiv:top")
	assert.Contains(t, saved, "arxiv:mid")
	assert.NotContains(t, saved, "arxiv:low")
}

func TestDailyRunStopsOnCorruptStore(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	run := NewDailyRun(DailyDeps{
		Source:     fakeSource{items: map[domain.Source][]domain.Item{domain.SourceArxiv: {arxivItem("a", "agent")}}},
		Engine:     newEngine(t),
		Store:      dedup.NewStore(corruptBackend{}, nil),
		Archive:    h.archive,
		Publishers: []ports.Publisher{h.publisher},
		Ledger:     h.ledger,
		Clock:      func() time.Time { return runDay },
	}, DailyOptions{MinScore: 1.0, Retention: time.Hour})

	_, err := run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreCorrupt))
	assert.Empty(t, h.archive.Documents())
	assert.Empty(t, h.publisher.docs)

	records, err := h.ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDailyRunStopsOnCorruptLedgerBeforeSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	backend := &corruptLedgerBackend{}
	h.ledger = ledger.New(backend, 10, nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{domain.SourceArxiv: {arxivItem("a", "agent")}}}

	_, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, Retention: time.Hour}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreCorrupt))
	assert.Zero(t, h.backend.Saves)
	assert.Empty(t, h.backend.Snapshot())
	assert.Empty(t, h.archive.Documents())
	assert.Empty(t, h.publisher.docs)
	assert.Zero(t, backend.saves)
}

func TestDailyRunRecordsDeliveryAndSiteFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.publisher.err = errors.New("chat not found")
	source := fakeSource{
		items: map[domain.Source][]domain.Item{domain.SourceArxiv: {arxivItem("a", "agent")}},
		err:   errors.Join(errors.New("site gh: timeout"), errors.New("site pwc: 502")),
	}

	result, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, Retention: time.Hour}).Run(context.Background())
	require.NoError(t, err)

	rec := result.Record
	assert.False(t, rec.Deliveries["telegram"])
	require.Len(t, rec.Errors, 3)
	assert.Equal(t, "site gh: timeout", rec.Errors[0])
	assert.True(t, strings.HasPrefix(rec.Errors[2], "deliver via telegram"))
	assert.Equal(t, 1, h.backend.Saves)
}

func TestDailyRunCancelledBeforeSaveKeepsStore(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.publisher.hook = cancel

	source := fakeSource{items: map[domain.Source][]domain.Item{domain.SourceArxiv: {arxivItem("a", "agent")}}}
	_, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, Retention: time.Hour}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, h.backend.Saves)
	assert.Empty(t, h.backend.Snapshot())
}

func TestDailyRunDryRun(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{domain.SourceArxiv: {arxivItem("a", "agent")}}}
	result, err := h.daily(t, source, runDay, DailyOptions{MinScore: 1.0, Retention: time.Hour, DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, result.Document.Body, "Paper a")
	assert.Empty(t, h.archive.Documents())
	assert.Empty(t, h.publisher.docs)
	assert.Zero(t, h.backend.Saves)
}

func renderDaily(at time.Time, items ...domain.Item) digest.Document {
	for i := range items {
		items[i].Score = 2.0
		items[i].Matches = map[string]int{"agent": 1}
	}
	return digest.NewRenderer("").RenderDaily(at, map[domain.Source][]domain.Item{domain.SourceArxiv: items})
}

func TestWeeklyRunRanksRepeatedItemsFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	ctx := context.Background()
	monday := time.Date(2026, time.October, 5, 6, 0, 0, 0, time.UTC)

	broken := renderDaily(monday.AddDate(0, 0, 3), arxivItem("c", ""))
	broken.Body = strings.Replace(broken.Body, "score=2", "score=x", 1)
	for _, doc := range []digest.Document{
		renderDaily(monday.AddDate(0, 0, -2), arxivItem("old", "")),
		renderDaily(monday, arxivItem("a", ""), arxivItem("b", "")),
		renderDaily(monday.AddDate(0, 0, 2), arxivItem("a", "")),
		broken,
	} {
		_, err := h.archive.Put(ctx, doc)
		require.NoError(t, err)
	}

	now := monday.AddDate(0, 0, 7)
	run := NewWeeklyRun(WeeklyDeps{
		Archive:    h.archive,
		Aggregator: weekly.NewAggregator(weekly.FallbackTitleURL, nil),
		Ranker:     weekly.Ranker{Boost: weekly.DefaultBoost, BreadthBonus: 0.5, TopN: 20},
		Publishers: []ports.Publisher{h.publisher},
		Ledger:     h.ledger,
		Clock:      func() time.Time { return now },
	}, WeeklyOptions{Lookback: 7 * 24 * time.Hour})

	result, err := run.Run(ctx)
	require.NoError(t, err)

	require.Len(t, result.Entries, 2)
	assert.Equal(t, "arxiv:a", result.Entries[0].Item.UniqueID)
	assert.Equal(t, 2, result.Entries[0].Appearances)
	assert.Equal(t, "arxiv:b", result.Entries[1].Item.UniqueID)
	assert.Greater(t, result.Entries[0].FinalScore, result.Entries[1].FinalScore)

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, domain.DiagnosticParseSkip, result.Diagnostics[0].Kind)
	assert.Len(t, result.Record.Diagnostics, 1)

	assert.Equal(t, "memory://weekly-2026-10-12", result.Record.DocumentRef)
	require.Len(t, h.publisher.docs, 1)
	assert.Contains(t, h.publisher.docs[0].Body, "(appeared 2x)")

	records, err := h.ledger.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RunWeekly, records[0].Kind)
	assert.Equal(t, 2, records[0].Collected["arxiv"])
}

func TestWeeklyRunStopsOnCorruptLedgerBeforeSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	ctx := context.Background()
	_, err := h.archive.Put(ctx, renderDaily(runDay.AddDate(0, 0, -1), arxivItem("a", "")))
	require.NoError(t, err)

	backend := &corruptLedgerBackend{}
	_, err = NewWeeklyRun(WeeklyDeps{
		Archive:    h.archive,
		Ranker:     weekly.Ranker{Boost: weekly.DefaultBoost},
		Publishers: []ports.Publisher{h.publisher},
		Ledger:     ledger.New(backend, 10, nil),
		Clock:      func() time.Time { return runDay },
	}, WeeklyOptions{}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreCorrupt))
	assert.Len(t, h.archive.Documents(), 1, "weekly document must not be archived")
	assert.Empty(t, h.publisher.docs)
	assert.Zero(t, backend.saves)
}

func TestWeeklyRunEmptyArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	result, err := NewWeeklyRun(WeeklyDeps{
		Archive: h.archive,
		Ranker:  weekly.Ranker{Boost: weekly.DefaultBoost},
		Clock:   func() time.Time { return runDay },
	}, WeeklyOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.Contains(t, result.Document.Body, "No items found")
}

type fakeSummarizer struct {
	summaries map[string]string
	err       error
	seen      []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, items []domain.Item) (map[string]string, error) {
	for _, item := range items {
		f.seen = append(f.seen, item.UniqueID())
	}
	return f.summaries, f.err
}

func TestDailyRunUsesSummaries(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{
		domain.SourceArxiv: {
			arxivItem("a", "An agent with planning"),
			arxivItem("b", "Retrieval for agents"),
		},
	}}
	summarizer := &fakeSummarizer{summaries: map[string]string{"arxiv:a": "Short take on planning agents."}}
	run := h.daily(t, source, runDay, DailyOptions{MinScore: 1, Retention: 30 * 24 * time.Hour})
	run.deps.Summarizer = summarizer

	result, err := run.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"arxiv:a", "arxiv:b"}, summarizer.seen)
	assert.Contains(t, result.Document.Body, "Short take on planning agents.")
	assert.NotContains(t, result.Document.Body, "> An agent with planning")
	assert.Contains(t, result.Document.Body, "Retrieval for agents")
	assert.Empty(t, result.Record.Errors)
}

func TestDailyRunKeepsAbstractsWhenSummarizerFails(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	source := fakeSource{items: map[domain.Source][]domain.Item{
		domain.SourceArxiv: {arxivItem("a", "An agent with planning")},
	}}
	run := h.daily(t, source, runDay, DailyOptions{MinScore: 1, Retention: 30 * 24 * time.Hour})
	run.deps.Summarizer = &fakeSummarizer{err: errors.New("chat error 429")}

	result, err := run.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, result.Document.Body, "An agent with planning")
	require.Len(t, result.Record.Errors, 1)
	assert.Contains(t, result.Record.Errors[0], "summarize: chat error 429")
	require.Len(t, h.publisher.docs, 1)
}
