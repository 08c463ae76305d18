package archive

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ports"
)

// Memory is an in-process archive with the same id and listing rules as Filesystem.
type Memory struct {
	mu   sync.Mutex
	docs []digest.Document
	ids  map[string]bool
}

var _ ports.DocumentArchive = (*Memory)(nil)

// NewMemory builds an empty archive.
func NewMemory() *Memory {
	return &Memory{ids: map[string]bool{}}
}

// Put stores a copy of doc; CreatedAt defaults to GeneratedAt.
func (m *Memory) Put(ctx context.Context, doc digest.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.ID
	for n := 2; m.ids[id]; n++ {
		id = doc.ID + "-" + strconv.Itoa(n)
	}
	m.ids[id] = true
	doc.ID = id
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.GeneratedAt
	}
	m.docs = append(m.docs, doc)
	return "memory://" + id, nil
}

// List mirrors Filesystem.List.
func (m *Memory) List(ctx context.Context, kind domain.RunKind, since, until time.Time) ([]digest.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type stamped struct {
		doc digest.Document
		at  time.Time
	}
	var found []stamped
	for _, doc := range m.docs {
		docKind, at := digest.Header(doc)
		if kind != "" && docKind != kind {
			continue
		}
		if at.Before(since) || !at.Before(until) {
			continue
		}
		found = append(found, stamped{doc: doc, at: at})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })

	docs := make([]digest.Document, 0, len(found))
	for _, s := range found {
		docs = append(docs, s.doc)
	}
	return docs, nil
}

// Documents returns every stored document in insertion order.
func (m *Memory) Documents() []digest.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]digest.Document(nil), m.docs...)
}
