package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ResearchDigest/internal/dedup"
	"ResearchDigest/internal/domain"
)

// SeenRepository persists dedup records in the seen_items table.
type SeenRepository struct {
	db *DB
}

var _ dedup.Backend = (*SeenRepository)(nil)

// NewSeenRepository wires the repository to an opened DB.
func NewSeenRepository(db *DB) *SeenRepository {
	return &SeenRepository{db: db}
}

// Load reads every seen record. Rows that fail to scan mean corruption.
func (r *SeenRepository) Load(ctx context.Context) (map[string]time.Time, error) {
	query, args, err := r.db.builder.
		Select("unique_id", "first_seen_at").
		From("seen_items").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen items: %w", err)
	}

	result := make(map[string]time.Time)
	for rows.Next() {
		var (
			id    string
			nanos int64
		)
		if err := rows.Scan(&id, &nanos); err != nil {
			_ = rows.Close()
			return nil, &domain.StoreCorruptionError{Store: "dedup", Path: "seen_items", Err: err}
		}
		if id == "" {
			_ = rows.Close()
			return nil, &domain.StoreCorruptionError{Store: "dedup", Path: "seen_items", Err: fmt.Errorf("row without unique_id")}
		}
		result[id] = time.Unix(0, nanos).UTC()
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// Save replaces the table contents with records.
func (r *SeenRepository) Save(ctx context.Context, records map[string]time.Time) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []any{id, records[id].UnixNano()})
	}
	return r.db.rewrite(ctx, "seen_items", []string{"unique_id", "first_seen_at"}, rows)
}
