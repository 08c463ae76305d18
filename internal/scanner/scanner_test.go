package scanner

import (
	"context"
	"reflect"
	"testing"

	"ResearchDigest/internal/domain"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }

func (s stubScanner) Scan(context.Context, Request) ([]domain.Item, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(stubScanner{name: "github-trending"}, stubScanner{name: "arxiv"})
	if _, err := reg.Resolve("arxiv"); err != nil {
		t.Fatalf("resolve arxiv: %v", err)
	}
	if _, err := reg.Resolve("ieee"); err == nil {
		t.Fatalf("expected error for unknown scanner")
	}
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"arxiv", "github-trending"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRequestIntOption(t *testing.T) {
	t.Parallel()

	req := Request{SiteName: "gh", Options: map[string]string{"min_stars": "75", "bad": "x"}}
	if v, err := req.IntOption("min_stars", 50); err != nil || v != 75 {
		t.Fatalf("expected 75, got %d (%v)", v, err)
	}
	if v, err := req.IntOption("absent", 50); err != nil || v != 50 {
		t.Fatalf("expected default 50, got %d (%v)", v, err)
	}
	if _, err := req.IntOption("bad", 0); err == nil {
		t.Fatalf("expected error for non-numeric option")
	}
}
