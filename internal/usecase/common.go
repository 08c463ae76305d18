package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ledger"
	"ResearchDigest/internal/ports"
)

// runLogger tags every line of one run with a fresh run_id.
func runLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("run_id", uuid.NewString())
}

// publish delivers doc to every publisher; failures are recorded, not returned.
func publish(ctx context.Context, publishers []ports.Publisher, doc digest.Document, rec *domain.RunRecord, logger *slog.Logger) {
	for _, p := range publishers {
		if err := p.Publish(ctx, doc); err != nil {
			rec.Deliveries[p.Name()] = false
			rec.Errors = append(rec.Errors, "deliver via "+p.Name()+": "+err.Error())
			if logger != nil {
				logger.Warn("delivery failed", "channel", p.Name(), "document", doc.ID, "error", err)
			}
			continue
		}
		rec.Deliveries[p.Name()] = true
	}
}

// appendRecord writes rec to the ledger. Only a corrupt ledger is reported
// to the caller; other ledger failures are logged.
func appendRecord(ctx context.Context, l *ledger.Ledger, rec domain.RunRecord, logger *slog.Logger) error {
	err := l.Append(ctx, rec)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreCorrupt) {
		return err
	}
	if logger != nil {
		logger.Error("run ledger not updated", "error", err)
	}
	return nil
}

// splitJoined unpacks an errors.Join result into its parts.
func splitJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
