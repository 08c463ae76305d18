// Package archive keeps rendered digests on disk, one Markdown file each.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ports"
)

const fileExt = ".md"

// Filesystem stores documents as <id>.md under a directory. A second
// document with an existing id gets a numeric suffix instead of replacing it.
type Filesystem struct {
	dir    string
	logger *slog.Logger
}

var _ ports.DocumentArchive = (*Filesystem)(nil)

// NewFilesystem builds an archive rooted at dir; the directory is created on first Put.
func NewFilesystem(dir string, logger *slog.Logger) *Filesystem {
	return &Filesystem{dir: dir, logger: logger}
}

// Put writes doc and returns the path it was stored under.
func (f *Filesystem) Put(ctx context.Context, doc digest.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.ID) == "" || strings.ContainsAny(doc.ID, `/\`) {
		return "", fmt.Errorf("invalid document id %q", doc.ID)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir %s: %w", f.dir, err)
	}

	for n := 1; ; n++ {
		name := doc.ID
		if n > 1 {
			name = doc.ID + "-" + strconv.Itoa(n)
		}
		path := filepath.Join(f.dir, name+fileExt)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := file.WriteString(doc.Body); err != nil {
			file.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("close %s: %w", path, err)
		}
		f.debug("document archived", "path", path, "kind", doc.Kind)
		return path, nil
	}
}

// List returns documents of kind whose timestamp lies in [since, until),
// oldest first. An empty kind matches every document. A missing directory
// is an empty archive.
func (f *Filesystem) List(ctx context.Context, kind domain.RunKind, since, until time.Time) ([]digest.Document, error) {
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive dir %s: %w", f.dir, err)
	}

	type stamped struct {
		doc digest.Document
		at  time.Time
	}
	var found []stamped
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(f.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		doc := digest.Document{
			ID:        strings.TrimSuffix(name, fileExt),
			Body:      string(raw),
			CreatedAt: info.ModTime().UTC(),
		}
		docKind, at := digest.Header(doc)
		if kind != "" && docKind != kind {
			continue
		}
		if at.Before(since) || !at.Before(until) {
			continue
		}
		doc.Kind = docKind
		found = append(found, stamped{doc: doc, at: at})
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].at.Equal(found[j].at) {
			return found[i].at.Before(found[j].at)
		}
		return found[i].doc.ID < found[j].doc.ID
	})

	docs := make([]digest.Document, 0, len(found))
	for _, s := range found {
		docs = append(docs, s.doc)
	}
	f.debug("archive listed", "kind", kind, "documents", len(docs))
	return docs, nil
}

func (f *Filesystem) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
