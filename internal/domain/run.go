package domain

import "time"

// RunKind separates daily collection runs from weekly digests.
type RunKind string

const (
	RunDaily  RunKind = "daily"
	RunWeekly RunKind = "weekly"
)

// RunRecord is one entry of the run ledger.
type RunRecord struct {
	At          time.Time       `json:"date"`
	Kind        RunKind         `json:"type"`
	Collected   map[string]int  `json:"collected"`
	AfterDedup  map[string]int  `json:"after_dedup"`
	AfterFilter map[string]int  `json:"after_filter"`
	DocumentRef string          `json:"document_ref"`
	Deliveries  map[string]bool `json:"deliveries"`
	Errors      []string        `json:"errors"`
	Diagnostics []string        `json:"diagnostics,omitempty"`
}
