package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ledger"
)

// LedgerRepository persists run records as JSON payload rows.
type LedgerRepository struct {
	db *DB
}

var _ ledger.Backend = (*LedgerRepository)(nil)

// NewLedgerRepository wires the repository to an opened DB.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Load returns run records in insertion order.
func (r *LedgerRepository) Load(ctx context.Context) ([]domain.RunRecord, error) {
	query, args, err := r.db.builder.
		Select("payload").
		From("run_records").
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run records: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &domain.StoreCorruptionError{Store: "ledger", Path: "run_records", Err: err}
		}
		var rec domain.RunRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, &domain.StoreCorruptionError{Store: "ledger", Path: "run_records", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

// Save replaces the stored records.
func (r *LedgerRepository) Save(ctx context.Context, records []domain.RunRecord) error {
	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode run record: %w", err)
		}
		rows = append(rows, []any{int64(i), string(payload)})
	}
	return r.db.rewrite(ctx, "run_records", []string{"seq", "payload"}, rows)
}
