// Package digest renders daily and weekly documents and owns the marker
// grammar that lets later runs read them back.
package digest

import (
	"time"

	"ResearchDigest/internal/domain"
)

// Document is one rendered digest.
type Document struct {
	ID          string
	Kind        domain.RunKind
	Title       string
	Body        string
	GeneratedAt time.Time
	// CreatedAt is supplied by the archive holding the document and is only
	// consulted when the body carries no timestamp of its own.
	CreatedAt time.Time
}
