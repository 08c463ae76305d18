package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source enumerates the feeds items are collected from.
type Source string

const (
	SourceArxiv  Source = "arxiv"
	SourceGitHub Source = "github"
	SourcePwC    Source = "pwc"
)

// Sources lists every known feed in rendering order.
var Sources = []Source{SourceGitHub, SourceArxiv, SourcePwC}

// ParseSource maps a textual source name onto a known feed.
func ParseSource(value string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(value))) {
	case SourceArxiv:
		return SourceArxiv, true
	case SourceGitHub:
		return SourceGitHub, true
	case SourcePwC:
		return SourcePwC, true
	default:
		return "", false
	}
}

// UniqueID derives the identity of an item from its source and the
// source-specific key. Titles and other mutable fields never take part.
func UniqueID(source Source, key string) string {
	return fmt.Sprintf("%s:%s", source, key)
}

// Item is one discovered unit (paper, release, trending repository).
type Item struct {
	Source      Source
	Key         string
	Title       string
	URL         string
	PublishedAt time.Time
	RawText     string
	Summary     string
	Extra       []string

	Score   float64
	Matches map[string]int
}

// UniqueID returns the deterministic identity of the item.
func (i Item) UniqueID() string {
	return UniqueID(i.Source, i.Key)
}

// Categories returns matched category names sorted by descending match
// count, then by name.
func (i Item) Categories() []string {
	return SortedCategories(i.Matches)
}

// IdentityConfidence records how a reconstructed unique id was obtained.
type IdentityConfidence string

const (
	// IdentityExact means the document carried source and key verbatim.
	IdentityExact IdentityConfidence = "exact"
	// IdentityDerived means the key was recovered from a well-known URL shape.
	IdentityDerived IdentityConfidence = "derived"
	// IdentityFallback means only a normalized title/url digest was available.
	IdentityFallback IdentityConfidence = "fallback"
)

// ReconstructedItem is an item recovered from a previously rendered document.
type ReconstructedItem struct {
	UniqueID    string
	Source      Source
	Title       string
	URL         string
	Summary     string
	Score       float64
	Categories  map[string]int
	Identity    IdentityConfidence
	Appearances int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// CategoryNames returns the category names in a stable order.
func (r ReconstructedItem) CategoryNames() []string {
	return SortedCategories(r.Categories)
}

// SeenRecord marks the first time a unique id was observed.
type SeenRecord struct {
	UniqueID    string
	FirstSeenAt time.Time
}

// CategoryDefinition is one weighted keyword group.
type CategoryDefinition struct {
	Name   string
	Weight float64
	Terms  []string
}

// RankedEntry is one line of the weekly ordering.
type RankedEntry struct {
	Item        ReconstructedItem
	FinalScore  float64
	Appearances int
}
