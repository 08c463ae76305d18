package ports

import (
	"context"
	"time"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
)

// ItemSource pulls fresh items from upstream providers. A site that fails
// does not stop the others: the partial result comes back together with a
// non-nil error describing every failed site.
type ItemSource interface {
	Collect(ctx context.Context, day time.Time) (map[domain.Source][]domain.Item, error)
}

// DocumentArchive stores rendered digests so later runs can read them back.
type DocumentArchive interface {
	Put(ctx context.Context, doc digest.Document) (string, error)
	// List returns documents of kind created within [since, until), oldest first.
	List(ctx context.Context, kind domain.RunKind, since, until time.Time) ([]digest.Document, error)
}

// Publisher delivers a rendered digest to a channel (Telegram, etc.).
type Publisher interface {
	Name() string
	Publish(ctx context.Context, doc digest.Document) error
}

// Job is one scheduled unit of work; trigger is the scheduled fire time.
type Job func(ctx context.Context, trigger time.Time) error

// Scheduler controls when jobs execute.
type Scheduler interface {
	AddJob(name, spec string, job Job) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Summarizer writes short summaries for delivered items. The result is keyed
// by item unique id; items it has no summary for are simply absent.
type Summarizer interface {
	Summarize(ctx context.Context, items []domain.Item) (map[string]string, error)
}
