// Package ledger keeps a bounded history of run outcomes.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/fileutil"
)

// DefaultMaxRecords bounds the ledger when no limit is configured.
const DefaultMaxRecords = 200

// Backend persists the whole record list.
type Backend interface {
	Load(ctx context.Context) ([]domain.RunRecord, error)
	Save(ctx context.Context, records []domain.RunRecord) error
}

// Ledger appends run records and drops the oldest beyond the limit.
type Ledger struct {
	backend    Backend
	maxRecords int
	logger     *slog.Logger

	loaded  bool
	records []domain.RunRecord
}

// New builds a ledger; maxRecords <= 0 selects DefaultMaxRecords.
func New(backend Backend, maxRecords int, logger *slog.Logger) *Ledger {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Ledger{backend: backend, maxRecords: maxRecords, logger: logger}
}

// Load reads the stored history. Runs call it before any side effect so a
// corrupt ledger stops them early; Append then extends this history.
func (l *Ledger) Load(ctx context.Context) error {
	if l == nil || l.backend == nil {
		return nil
	}
	records, err := l.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load run ledger: %w", err)
	}
	l.records = records
	l.loaded = true
	return nil
}

// Append adds rec to the loaded history and writes the trimmed list back.
// The history is loaded first when Load was not called.
func (l *Ledger) Append(ctx context.Context, rec domain.RunRecord) error {
	if l == nil || l.backend == nil {
		return nil
	}
	if !l.loaded {
		if err := l.Load(ctx); err != nil {
			return err
		}
	}

	records := append(append([]domain.RunRecord(nil), l.records...), rec)
	if len(records) > l.maxRecords {
		records = records[len(records)-l.maxRecords:]
	}

	if err := l.backend.Save(ctx, records); err != nil {
		return fmt.Errorf("save run ledger: %w", err)
	}
	l.records = records

	if l.logger != nil {
		l.logger.Info("run record appended", "type", rec.Kind, "total", len(records))
	}
	return nil
}

// Records returns the stored history, oldest first.
func (l *Ledger) Records(ctx context.Context) ([]domain.RunRecord, error) {
	if l == nil || l.backend == nil {
		return nil, nil
	}
	return l.backend.Load(ctx)
}

// FileBackend stores the ledger as a JSON array.
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend points the backend at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Load(ctx context.Context) ([]domain.RunRecord, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var records []domain.RunRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &domain.StoreCorruptionError{Store: "ledger", Path: f.path, Err: err}
	}
	return records, nil
}

func (f *FileBackend) Save(ctx context.Context, records []domain.RunRecord) error {
	if records == nil {
		records = []domain.RunRecord{}
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run ledger: %w", err)
	}

	return fileutil.WriteAtomic(f.path, payload)
}

// MemoryBackend keeps records in memory.
type MemoryBackend struct {
	records []domain.RunRecord
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) Load(ctx context.Context) ([]domain.RunRecord, error) {
	return append([]domain.RunRecord(nil), m.records...), nil
}

func (m *MemoryBackend) Save(ctx context.Context, records []domain.RunRecord) error {
	m.records = append([]domain.RunRecord(nil), records...)
	return nil
}
