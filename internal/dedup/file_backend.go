package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/fileutil"
)

const fileFormatVersion = 1

type fileDocument struct {
	Version int                  `json:"version"`
	Records map[string]time.Time `json:"records"`
}

type legacyEntry struct {
	ID     string `json:"id"`
	SeenAt string `json:"seen_at"`
}

// FileBackend keeps the seen-mapping in a single JSON file.
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend points the backend at path; the file is created on Save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file location.
func (f *FileBackend) Path() string {
	return f.path
}

// Load reads the file. Missing or blank files are an empty store.
func (f *FileBackend) Load(ctx context.Context) (map[string]time.Time, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]time.Time{}, nil
	}

	records, err := decodeSeen(raw)
	if err != nil {
		return nil, &domain.StoreCorruptionError{Store: "dedup", Path: f.path, Err: err}
	}
	return records, nil
}

// Save rewrites the file atomically through a sibling temp file.
func (f *FileBackend) Save(ctx context.Context, records map[string]time.Time) error {
	doc := fileDocument{Version: fileFormatVersion, Records: records}
	if doc.Records == nil {
		doc.Records = map[string]time.Time{}
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seen records: %w", err)
	}
	return fileutil.WriteAtomic(f.path, payload)
}

func decodeSeen(raw []byte) (map[string]time.Time, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}

	if _, ok := top["records"]; ok {
		var doc fileDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if doc.Version != fileFormatVersion {
			return nil, fmt.Errorf("unsupported format version %d", doc.Version)
		}
		if doc.Records == nil {
			doc.Records = map[string]time.Time{}
		}
		return doc.Records, nil
	}

	// Per-source lists written by earlier releases.
	records := map[string]time.Time{}
	for source, body := range top {
		var entries []legacyEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("source %s: %w", source, err)
		}
		for _, entry := range entries {
			if entry.ID == "" {
				return nil, fmt.Errorf("source %s: entry without id", source)
			}
			at, err := time.Parse(time.RFC3339Nano, entry.SeenAt)
			if err != nil {
				return nil, fmt.Errorf("source %s: entry %s: %w", source, entry.ID, err)
			}
			if prev, ok := records[entry.ID]; !ok || at.Before(prev) {
				records[entry.ID] = at.UTC()
			}
		}
	}
	return records, nil
}
