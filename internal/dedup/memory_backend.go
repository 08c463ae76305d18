package dedup

import (
	"context"
	"time"
)

// MemoryBackend is a Backend kept in process memory.
type MemoryBackend struct {
	records map[string]time.Time
	Saves   int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend seeds the backend with a copy of records.
func NewMemoryBackend(records map[string]time.Time) *MemoryBackend {
	return &MemoryBackend{records: cloneRecords(records)}
}

func (m *MemoryBackend) Load(ctx context.Context) (map[string]time.Time, error) {
	return cloneRecords(m.records), nil
}

func (m *MemoryBackend) Save(ctx context.Context, records map[string]time.Time) error {
	m.records = cloneRecords(records)
	m.Saves++
	return nil
}

// Snapshot returns the last saved state.
func (m *MemoryBackend) Snapshot() map[string]time.Time {
	return cloneRecords(m.records)
}

func cloneRecords(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
