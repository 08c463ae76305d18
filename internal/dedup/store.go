// Package dedup tracks which items were already delivered.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ResearchDigest/internal/domain"
)

// Backend persists the whole seen-mapping as one document.
type Backend interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, records map[string]time.Time) error
}

// Store holds seen records for a single run: Load, mutate, Save.
type Store struct {
	backend Backend
	records map[string]time.Time
	logger  *slog.Logger
}

// NewStore wraps a backend; the store is empty until Load is called.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{backend: backend, records: map[string]time.Time{}, logger: logger}
}

// Load replaces in-memory state with the backend contents. A missing
// document yields an empty store; corruption is returned untouched.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return fmt.Errorf("dedup backend is not configured")
	}
	records, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load seen records: %w", err)
	}
	if records == nil {
		records = map[string]time.Time{}
	}
	s.records = records
	s.debug("dedup store loaded", "records", len(records))
	return nil
}

// Save writes the full mapping back to the backend.
func (s *Store) Save(ctx context.Context) error {
	if s.backend == nil {
		return fmt.Errorf("dedup backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save seen records: %w", err)
	}
	if err := s.backend.Save(ctx, s.records); err != nil {
		return fmt.Errorf("save seen records: %w", err)
	}
	s.debug("dedup store saved", "records", len(s.records))
	return nil
}

// HasSeen reports whether id was recorded before.
func (s *Store) HasSeen(id string) bool {
	_, ok := s.records[id]
	return ok
}

// MarkSeen records id at the given time. Existing records keep their
// original timestamp.
func (s *Store) MarkSeen(id string, at time.Time) {
	if _, ok := s.records[id]; ok {
		return
	}
	s.records[id] = at.UTC()
}

// FirstSeen returns the recorded timestamp of id.
func (s *Store) FirstSeen(id string) (time.Time, bool) {
	at, ok := s.records[id]
	return at, ok
}

// Prune drops every record older than retention relative to now. A record
// exactly retention old is kept.
func (s *Store) Prune(now time.Time, retention time.Duration) int {
	removed := 0
	for id, first := range s.records {
		if now.Sub(first) > retention {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		s.debug("pruned seen records", "removed", removed, "remaining", len(s.records))
	}
	return removed
}

// FilterUnseen returns items that were not seen before and marks them.
// Duplicates inside the batch are collapsed to the first occurrence.
func (s *Store) FilterUnseen(items []domain.Item, at time.Time) []domain.Item {
	unseen := make([]domain.Item, 0, len(items))
	for _, item := range items {
		id := item.UniqueID()
		if s.HasSeen(id) {
			continue
		}
		s.MarkSeen(id, at)
		unseen = append(unseen, item)
	}
	s.debug("dedup filtered", "in", len(items), "unseen", len(unseen))
	return unseen
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns a snapshot ordered by id.
func (s *Store) Records() []domain.SeenRecord {
	out := make([]domain.SeenRecord, 0, len(s.records))
	for id, at := range s.records {
		out = append(out, domain.SeenRecord{UniqueID: id, FirstSeenAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
