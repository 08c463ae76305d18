package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid configuration; runs abort before any side effect.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrStoreCorrupt marks unreadable persisted state.
	ErrStoreCorrupt = errors.New("store corrupted")
)

// ConfigurationError describes a rejected configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %s", e.Reason)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StoreCorruptionError reports a persisted document that could not be decoded.
type StoreCorruptionError struct {
	Store string
	Path  string
	Err   error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("%s store %s is corrupted: %v", e.Store, e.Path, e.Err)
}

func (e *StoreCorruptionError) Unwrap() error {
	return e.Err
}

func (e *StoreCorruptionError) Is(target error) bool {
	return target == ErrStoreCorrupt
}

// DiagnosticKind classifies non-fatal problems collected during a run.
type DiagnosticKind string

const (
	DiagnosticParseSkip        DiagnosticKind = "parse_skip"
	DiagnosticIdentityFallback DiagnosticKind = "identity_fallback"
	DiagnosticDocumentSkip     DiagnosticKind = "document_skip"
)

// Diagnostic is a recorded, non-fatal problem. Line is 1-based, 0 when unknown.
type Diagnostic struct {
	Kind       DiagnosticKind
	DocumentID string
	Line       int
	Reason     string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s %s:%d: %s", d.Kind, d.DocumentID, d.Line, d.Reason)
	}
	return fmt.Sprintf("%s %s: %s", d.Kind, d.DocumentID, d.Reason)
}
