package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ResearchDigest/internal/domain"
)

func TestAppendTrimsOldestRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New(&MemoryBackend{}, 3, nil)
	base := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := domain.RunRecord{At: base.AddDate(0, 0, i), Kind: domain.RunDaily}
		if err := l.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := l.Records(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].At.Equal(base.AddDate(0, 0, 2)) {
		t.Fatalf("unexpected oldest record: %v", records[0].At)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run-log.json")
	l := New(NewFileBackend(path), 0, nil)

	rec := domain.RunRecord{
		At:          time.Date(2026, time.October, 15, 6, 0, 0, 0, time.UTC),
		Kind:        domain.RunWeekly,
		Collected:   map[string]int{"aggregated_items": 12},
		DocumentRef: "weekly-2026-10-15.md",
		Deliveries:  map[string]bool{"telegram": true},
		Errors:      []string{},
	}
	if err := l.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := New(NewFileBackend(path), 0, nil).Records(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(records) != 1 || records[0].DocumentRef != rec.DocumentRef || !records[0].Deliveries["telegram"] {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestFileBackendMissingIsEmpty(t *testing.T) {
	t.Parallel()

	records, err := NewFileBackend(filepath.Join(t.TempDir(), "none.json")).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(records))
	}
}

func TestCorruptLedgerIsNotOverwritten(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run-log.json")
	if err := os.WriteFile(path, []byte(`{"not": "a list"}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := New(NewFileBackend(path), 0, nil).Append(context.Background(), domain.RunRecord{Kind: domain.RunDaily})
	if !errors.Is(err, domain.ErrStoreCorrupt) {
		t.Fatalf("expected corruption error, got %v", err)
	}

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read: %v", readErr)
	}
	if string(raw) != `{"not": "a list"}` {
		t.Fatalf("corrupt ledger was rewritten: %s", raw)
	}
}

func TestLoadThenAppendExtendsLoadedHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &MemoryBackend{records: []domain.RunRecord{{Kind: domain.RunDaily, DocumentRef: "daily-2026-10-11"}}}
	l := New(backend, 10, nil)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.Append(ctx, domain.RunRecord{Kind: domain.RunDaily, DocumentRef: "daily-2026-10-12"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(ctx, domain.RunRecord{Kind: domain.RunWeekly, DocumentRef: "weekly-2026-10-12"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := l.Records(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 || records[0].DocumentRef != "daily-2026-10-11" || records[2].Kind != domain.RunWeekly {
		t.Fatalf("unexpected history: %+v", records)
	}
}

func TestLoadReportsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run-log.json")
	if err := os.WriteFile(path, []byte("[{"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := New(NewFileBackend(path), 0, nil).Load(context.Background()); !errors.Is(err, domain.ErrStoreCorrupt) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestFileBackendSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "run-log.json")
	l := New(NewFileBackend(path), 0, nil)
	for i := 0; i < 2; i++ {
		if err := l.Append(context.Background(), domain.RunRecord{Kind: domain.RunDaily}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only run-log.json, found %d entries", len(entries))
	}
}
